package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/layerdaw/internal/config"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/studio"
)

var renderOutput string

var renderCmd = &cobra.Command{
	Use:   "render <project.json>",
	Short: "Mix a saved project down to a WAV file",
	Long: `Render every ready clip of the project's unmuted tracks, cropped to its
window and scaled by the track volume, into one 48 kHz stereo WAV. Clip audio
is read from the configured blob backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return render(cmd.Context(), config.Load(), args[0], renderOutput)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "mix.wav", "output WAV path")
	rootCmd.AddCommand(renderCmd)
}

func render(ctx context.Context, cfg config.Config, projectPath, out string) error {
	p, err := project.LoadFile(projectPath)
	if err != nil {
		return err
	}
	blobs, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	defer closeBlobs()

	store := project.NewStore()
	store.SetProject(p)

	data, err := studio.New(store, blobs, nil, cfg.PeakCount).Export(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write mix: %w", err)
	}
	logger.Info("Mix rendered", logger.String("project", p.Name), logger.String("output", out))
	return nil
}
