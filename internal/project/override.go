package project

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OverrideMode says where a per-clip setting comes from.
type OverrideMode int

const (
	// Inherit uses the project's value.
	Inherit OverrideMode = iota
	// Auto lets the backend infer the value from the audio context.
	Auto
	// Manual uses the override's own value.
	Manual
)

func (m OverrideMode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	default:
		return "inherit"
	}
}

// Override is a per-clip setting that is inherited, inferred or explicit.
type Override[T any] struct {
	Mode  OverrideMode
	Value T
}

// InheritValue returns an override that follows the project.
func InheritValue[T any]() Override[T] {
	return Override[T]{Mode: Inherit}
}

// AutoValue returns an override that asks the backend to infer.
func AutoValue[T any]() Override[T] {
	return Override[T]{Mode: Auto}
}

// ManualValue returns an explicit override.
func ManualValue[T any](v T) Override[T] {
	return Override[T]{Mode: Manual, Value: v}
}

// Resolve returns the effective value. ok is false in Auto mode, where the
// value is left to the backend.
func (o Override[T]) Resolve(projectValue T) (v T, ok bool) {
	switch o.Mode {
	case Auto:
		return v, false
	case Manual:
		return o.Value, true
	default:
		return projectValue, true
	}
}

type overrideWire[T any] struct {
	Mode  string `json:"mode"`
	Value *T     `json:"value,omitempty"`
}

// MarshalJSON writes null for Inherit and {"mode":...} otherwise.
func (o Override[T]) MarshalJSON() ([]byte, error) {
	switch o.Mode {
	case Auto:
		return json.Marshal(overrideWire[T]{Mode: "auto"})
	case Manual:
		v := o.Value
		return json.Marshal(overrideWire[T]{Mode: "manual", Value: &v})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the object form as well as the bare forms older
// project files use: null, "auto" and a plain value.
func (o *Override[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = Override[T]{Mode: Inherit}
		return nil
	}
	if bytes.Equal(data, []byte(`"auto"`)) {
		*o = Override[T]{Mode: Auto}
		return nil
	}
	if data[0] == '{' {
		var w overrideWire[T]
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("override: %w", err)
		}
		switch w.Mode {
		case "auto":
			*o = Override[T]{Mode: Auto}
		case "manual":
			if w.Value == nil {
				return fmt.Errorf("override: manual mode without value")
			}
			*o = Override[T]{Mode: Manual, Value: *w.Value}
		case "inherit", "":
			*o = Override[T]{Mode: Inherit}
		default:
			return fmt.Errorf("override: unknown mode %q", w.Mode)
		}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("override: %w", err)
	}
	*o = Override[T]{Mode: Manual, Value: v}
	return nil
}
