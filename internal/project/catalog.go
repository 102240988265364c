package project

import "strings"

// TrackKind is the semantic instrument tag of a track. The backend uses it
// as the lego track name.
type TrackKind string

const (
	KindDrums         TrackKind = "drums"
	KindBass          TrackKind = "bass"
	KindGuitar        TrackKind = "guitar"
	KindKeyboard      TrackKind = "keyboard"
	KindPercussion    TrackKind = "percussion"
	KindStrings       TrackKind = "strings"
	KindSynth         TrackKind = "synth"
	KindFX            TrackKind = "fx"
	KindBrass         TrackKind = "brass"
	KindWoodwinds     TrackKind = "woodwinds"
	KindBackingVocals TrackKind = "backing_vocals"
	KindVocals        TrackKind = "vocals"
	KindCustom        TrackKind = "custom"
)

// KindInfo is the catalog entry for a track kind.
type KindInfo struct {
	DisplayName   string
	Color         string
	DefaultOrder  int
	DefaultPrompt string
}

var catalog = map[TrackKind]KindInfo{
	KindDrums:         {"Drums", "#ef4444", 12, "drums, drum kit, rhythmic percussion"},
	KindBass:          {"Bass", "#f97316", 11, "bass, bass guitar, low-end groove"},
	KindGuitar:        {"Guitar", "#eab308", 10, "guitar, electric guitar or acoustic guitar"},
	KindKeyboard:      {"Keyboard", "#22c55e", 9, "keyboard, piano, keys"},
	KindPercussion:    {"Percussion", "#14b8a6", 8, "percussion, auxiliary percussion, shakers, tambourine"},
	KindStrings:       {"Strings", "#06b6d4", 7, "strings, orchestral strings, violin, cello"},
	KindSynth:         {"Synth", "#3b82f6", 6, "synthesizer, electronic synth, synth pad"},
	KindFX:            {"FX", "#8b5cf6", 5, "sound effects, fx, ambient textures"},
	KindBrass:         {"Brass", "#a855f7", 4, "brass, trumpet, trombone, horn section"},
	KindWoodwinds:     {"Woodwinds", "#d946ef", 3, "woodwinds, saxophone, flute, clarinet"},
	KindBackingVocals: {"Backing Vocals", "#ec4899", 2, "backing vocals, harmony vocals, choir"},
	KindVocals:        {"Vocals", "#f43f5e", 1, "lead vocals, singing voice"},
	KindCustom:        {"Generic", "#71717a", 0, ""},
}

// Kinds lists every track kind in catalog order.
var Kinds = []TrackKind{
	KindDrums, KindBass, KindGuitar, KindKeyboard, KindPercussion,
	KindStrings, KindSynth, KindFX, KindBrass, KindWoodwinds,
	KindBackingVocals, KindVocals, KindCustom,
}

// Info returns the catalog entry, falling back to the custom entry.
func (k TrackKind) Info() KindInfo {
	if info, ok := catalog[k]; ok {
		return info
	}
	return catalog[KindCustom]
}

// Valid reports whether k is a catalog kind.
func (k TrackKind) Valid() bool {
	_, ok := catalog[k]
	return ok
}

// Label is the upper-case name used in backend instructions, with the first
// underscore turned into a space ("BACKING VOCALS").
func (k TrackKind) Label() string {
	return strings.Replace(strings.ToUpper(string(k)), "_", " ", 1)
}
