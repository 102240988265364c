package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/layerdaw/internal/acestep"
	"github.com/satindergrewal/layerdaw/internal/api"
	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/config"
	"github.com/satindergrewal/layerdaw/internal/engine"
	"github.com/satindergrewal/layerdaw/internal/generation"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/stream"
	"github.com/satindergrewal/layerdaw/internal/studio"
	"github.com/satindergrewal/layerdaw/internal/transport"
)

var serveProject string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audio engine and the HTTP control surface",
	Long: `Run the audio engine, generation pipeline, REST/websocket API and the
monitor stream of the master bus. With --project the document is loaded on
start and written back on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(config.Load(), serveProject)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveProject, "project", "p", "", "project JSON file to load and save")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config, projectPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("layerdaw starting up", logger.String("blobBackend", cfg.BlobBackend))

	blobs, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	defer closeBlobs()

	store := project.NewStoreWithDefaults(generationDefaults(cfg))
	if projectPath != "" {
		p, err := project.LoadFile(projectPath)
		switch {
		case err == nil:
			store.SetProject(p)
			logger.Info("Project loaded", logger.String("path", projectPath), logger.String("name", p.Name))
		case errors.Is(err, fs.ErrNotExist):
			store.CreateProject(project.NewProjectOptions{})
		default:
			return err
		}
	}

	// Audio engine and transport
	engines := engine.NewHandle(audio.SampleRate)
	defer engines.Dispose()
	eng, sched := engines.Engine(), engines.Scheduler()
	tr := transport.New(store, blobs, sched)
	go eng.Run(ctx)
	go sched.Run(ctx, cfg.TimeUpdateRate)

	// Generation backends
	queue := acestep.NewClient(cfg.ACEStepAPIURL, cfg.ACEStepAPIKey, cfg.ACEStepOutputDir)
	if err := checkBackend(ctx, cfg, queue); err != nil {
		return err
	}

	backends := generation.Backends{Queue: queue}
	if cfg.ModalURL != "" {
		backends.Sync = acestep.NewModalClient(cfg.ModalURL)
	} else {
		logger.Info("Modal not configured (set MODAL_URL to enable synchronous generation)")
	}
	pipe := generation.New(store, blobs, backends, generation.Options{
		PollInterval:    cfg.PollInterval,
		MaxPollDuration: cfg.MaxPollDuration,
		PeakCount:       cfg.PeakCount,
	})

	// Monitor stream of the master bus
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, eng.Frames())
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.MonitorOpusBitrate)
	defer webrtcHandler.Close()

	srv := api.New(ctx, api.Deps{
		Store:         store,
		Transport:     tr,
		Pipeline:      pipe,
		Studio:        studio.New(store, blobs, tr, cfg.PeakCount),
		MonitorHTTP:   stream.NewHTTPHandler(broadcaster, cfg.MonitorMP3Bitrate),
		MonitorWebRTC: webrtcHandler,
		Backend:       queue,
	})
	go srv.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		tr.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("layerdaw live", logger.String("addr", addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	if projectPath != "" {
		return saveProject(store, projectPath)
	}
	return nil
}

func generationDefaults(cfg config.Config) project.GenerationDefaults {
	return project.GenerationDefaults{
		InferenceSteps: cfg.InferenceSteps,
		GuidanceScale:  cfg.GuidanceScale,
		Shift:          cfg.Shift,
		Thinking:       cfg.Thinking,
		Model:          cfg.Model,
		UseModal:       cfg.UseModal,
	}
}

// checkBackend blocks until ACE-Step answers when WaitForBackend is set and
// otherwise only warns when it is down.
func checkBackend(ctx context.Context, cfg config.Config, queue *acestep.Client) error {
	if cfg.WaitForBackend {
		waitCtx, waitCancel := context.WithTimeout(ctx, cfg.BackendWaitTimeout)
		defer waitCancel()
		if err := queue.WaitForHealthy(waitCtx, time.Second); err != nil {
			return fmt.Errorf("ACE-Step not healthy: %w", err)
		}
		return nil
	}
	healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
	defer healthCancel()
	if err := queue.Health(healthCtx); err != nil {
		logger.Warn("ACE-Step not reachable, queued generation will fail until it is", logger.ErrorField(err))
	}
	return nil
}

func saveProject(store *project.Store, path string) error {
	p, err := store.Project()
	if errors.Is(err, project.ErrNoProject) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := project.SaveFile(path, p); err != nil {
		return err
	}
	logger.Info("Project saved", logger.String("path", path))
	return nil
}
