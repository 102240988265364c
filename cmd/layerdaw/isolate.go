package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/subtract"
)

var (
	isolateOutput   string
	isolateStart    float64
	isolateDuration float64
)

var isolateCmd = &cobra.Command{
	Use:   "isolate <current> [previous]",
	Short: "Subtract a previous mix from a cumulative mix",
	Long: `Isolate the layer that a cumulative mix adds on top of the previous mix by
subtracting the two signals sample by sample. Without a previous mix the
current one is kept as is. The result is cropped to --start/--duration when
a duration is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		previous := ""
		if len(args) == 2 {
			previous = args[1]
		}
		return isolate(args[0], previous, isolateOutput, isolateStart, isolateDuration)
	},
}

func init() {
	isolateCmd.Flags().StringVarP(&isolateOutput, "output", "o", "isolated.wav", "output WAV path")
	isolateCmd.Flags().Float64Var(&isolateStart, "start", 0, "crop start in seconds")
	isolateCmd.Flags().Float64Var(&isolateDuration, "duration", 0, "crop length in seconds, 0 keeps everything after --start")
	rootCmd.AddCommand(isolateCmd)
}

func isolate(currentPath, previousPath, out string, start, duration float64) error {
	current, err := decodeFile(currentPath)
	if err != nil {
		return err
	}
	var previous *audio.Buffer
	if previousPath != "" {
		if previous, err = decodeFile(previousPath); err != nil {
			return err
		}
	}

	isolated := subtract.Isolate(current, previous)
	if duration <= 0 {
		duration = isolated.Duration() - start
	}
	isolated = subtract.Crop(isolated, start, duration)

	data, err := audio.EncodeWAV(isolated)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write isolated: %w", err)
	}
	logger.Info("Layer isolated",
		logger.String("output", out),
		logger.Float64("duration", isolated.Duration()))
	return nil
}

func decodeFile(path string) (*audio.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := audio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return b, nil
}
