// Package generation drives clip generation: it feeds each clip the
// cumulative mix of everything generated before it, then subtracts that mix
// from the result to recover the clip's own layer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/layerdaw/internal/acestep"
	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/storage"
	"github.com/satindergrewal/layerdaw/internal/subtract"
)

var (
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrTimeout              = errors.New("generation timed out")
	ErrNoBackend            = errors.New("generation backend not configured")
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollDuration = 20 * time.Minute
	DefaultPeakCount       = 200
)

// Store is the project state the pipeline reads and updates.
type Store interface {
	Project() (*project.Project, error)
	ClipByID(clipID string) (project.Clip, error)
	TrackForClip(clipID string) (project.Track, error)
	TracksInGenerationOrder() ([]project.Track, error)
	PreviousMixClip(clipID string) (project.Clip, bool, error)
	UpdateClipStatus(clipID string, status project.Status, apply func(c *project.Clip)) (project.Clip, error)
}

// QueueBackend submits tasks to a queue and is polled for results.
type QueueBackend interface {
	ReleaseLegoTask(ctx context.Context, srcAudio []byte, params acestep.LegoParams) (acestep.ReleaseTaskResponse, error)
	QueryResult(ctx context.Context, taskIDs ...string) ([]acestep.TaskResultEntry, error)
	Download(ctx context.Context, audioPath string) ([]byte, error)
}

// SyncBackend returns the finished audio from a single call.
type SyncBackend interface {
	Generate(ctx context.Context, srcAudio []byte, params acestep.LegoParams) (acestep.ModalResult, error)
}

// Backends holds the available backends. A project's useModal setting
// selects Sync; otherwise Queue is used.
type Backends struct {
	Queue QueueBackend
	Sync  SyncBackend
}

// Options tunes polling and the stored waveform overview.
type Options struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	PeakCount       int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPollDuration <= 0 {
		o.MaxPollDuration = DefaultMaxPollDuration
	}
	if o.PeakCount <= 0 {
		o.PeakCount = DefaultPeakCount
	}
	return o
}

// Pipeline generates clips one at a time. At most one generation, of a
// single clip or of the whole project, runs at once.
type Pipeline struct {
	store    Store
	blobs    storage.BlobStore
	backends Backends
	opts     Options
	jobs     *Jobs

	running atomic.Bool

	mu      sync.Mutex
	onReady []func(project.Clip)
}

// New creates a pipeline.
func New(store Store, blobs storage.BlobStore, backends Backends, opts Options) *Pipeline {
	return &Pipeline{
		store:    store,
		blobs:    blobs,
		backends: backends,
		opts:     opts.withDefaults(),
		jobs:     NewJobs(),
	}
}

// Jobs returns the job list.
func (p *Pipeline) Jobs() *Jobs {
	return p.jobs
}

// Generating reports whether a generation is running.
func (p *Pipeline) Generating() bool {
	return p.running.Load()
}

// OnClipReady registers fn to run after a clip's audio has been stored.
func (p *Pipeline) OnClipReady(fn func(project.Clip)) {
	p.mu.Lock()
	p.onReady = append(p.onReady, fn)
	p.mu.Unlock()
}

// GenerateAll generates every clip that is not ready, bottom track first.
// A failed clip is recorded and the pass continues; the returned error joins
// the individual failures.
func (p *Pipeline) GenerateAll(ctx context.Context) error {
	run, err := p.StartAll()
	if err != nil {
		return err
	}
	return run(ctx)
}

// GenerateClip generates one clip against the latest mix before it.
func (p *Pipeline) GenerateClip(ctx context.Context, clipID string) error {
	run, err := p.StartClip(clipID)
	if err != nil {
		return err
	}
	return run(ctx)
}

// StartAll claims the pipeline for a GenerateAll pass and returns the pass
// to run. The claim is released when the pass returns, so the returned func
// must be called. Callers that run the pass in the background learn about a
// busy pipeline before they detach.
func (p *Pipeline) StartAll() (func(ctx context.Context) error, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrGenerationInProgress
	}
	return func(ctx context.Context) error {
		defer p.running.Store(false)
		return p.generateAll(ctx)
	}, nil
}

// StartClip is StartAll for a single clip. An unknown clip is reported
// without claiming the pipeline.
func (p *Pipeline) StartClip(clipID string) (func(ctx context.Context) error, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrGenerationInProgress
	}
	if _, err := p.store.ClipByID(clipID); err != nil {
		p.running.Store(false)
		return nil, err
	}
	return func(ctx context.Context) error {
		defer p.running.Store(false)
		return p.generate(ctx, clipID)
	}, nil
}

func (p *Pipeline) generateAll(ctx context.Context) error {
	tracks, err := p.store.TracksInGenerationOrder()
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range tracks {
		for _, c := range t.Clips {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if c.Status == project.StatusReady {
				continue
			}
			if err := p.generate(ctx, c.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) generate(ctx context.Context, clipID string) error {
	track, err := p.store.TrackForClip(clipID)
	if err != nil {
		return err
	}

	jobID := uuid.NewString()
	p.jobs.Add(Job{
		ID:        jobID,
		ClipID:    clipID,
		TrackName: track.Kind,
		Status:    JobQueued,
		Progress:  "Queued",
	})

	logger.Info("Generating clip",
		logger.String("clip_id", clipID),
		logger.String("track", string(track.Kind)),
		logger.String("job_id", jobID))

	ready, err := p.run(ctx, jobID, clipID)
	if err != nil {
		p.fail(clipID, jobID, err)
		return fmt.Errorf("clip %s: %w", clipID, err)
	}

	p.jobs.Update(jobID, func(j *Job) {
		j.Status = JobDone
		j.Progress = "Done"
	})
	logger.Info("Clip ready", logger.String("clip_id", clipID), logger.String("job_id", jobID))

	p.mu.Lock()
	hooks := append([]func(project.Clip){}, p.onReady...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(ready)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, jobID, clipID string) (project.Clip, error) {
	if _, err := p.store.UpdateClipStatus(clipID, project.StatusQueued, func(c *project.Clip) {
		c.GenerationJobID = jobID
	}); err != nil {
		return project.Clip{}, err
	}

	proj, err := p.store.Project()
	if err != nil {
		return project.Clip{}, err
	}
	track, err := p.store.TrackForClip(clipID)
	if err != nil {
		return project.Clip{}, err
	}
	clip, err := p.store.ClipByID(clipID)
	if err != nil {
		return project.Clip{}, err
	}

	prevMix, err := p.previousMix(ctx, clipID)
	if err != nil {
		return project.Clip{}, err
	}
	srcAudio := prevMix
	if srcAudio == nil {
		if srcAudio, err = audio.SilenceWAV(proj.TotalDuration); err != nil {
			return project.Clip{}, fmt.Errorf("build silent context: %w", err)
		}
	}

	params := BuildLegoParams(proj, track, clip)

	p.jobs.Update(jobID, func(j *Job) {
		j.Status = JobGenerating
		j.Progress = "Submitting..."
	})
	if _, err := p.store.UpdateClipStatus(clipID, project.StatusGenerating, nil); err != nil {
		return project.Clip{}, err
	}

	var mix []byte
	var metas *project.InferredMetas
	if proj.GenerationDefaults.UseModal {
		mix, metas, err = p.generateSync(ctx, jobID, srcAudio, params)
	} else {
		mix, metas, err = p.generateQueued(ctx, jobID, clipID, srcAudio, params)
	}
	if err != nil {
		return project.Clip{}, err
	}

	return p.persist(ctx, proj.ID, clipID, prevMix, mix, metas)
}

// persist derives the clip's isolated layer from the generated mix, then
// stores both and marks the clip ready. Nothing is written until the mix has
// decoded, so a bad result leaves the clip's previous blobs intact.
func (p *Pipeline) persist(ctx context.Context, projectID, clipID string, prevMix, mix []byte, metas *project.InferredMetas) (project.Clip, error) {
	current, err := audio.Decode(mix)
	if err != nil {
		return project.Clip{}, fmt.Errorf("decode generated audio: %w", err)
	}
	var previous *audio.Buffer
	if prevMix != nil {
		if previous, err = audio.Decode(prevMix); err != nil {
			return project.Clip{}, fmt.Errorf("decode previous mix: %w", err)
		}
	}
	full := subtract.Isolate(current, previous)

	// the clip may have been moved or resized while generating
	clip, err := p.store.ClipByID(clipID)
	if err != nil {
		return project.Clip{}, err
	}
	isolated := subtract.Crop(full, clip.StartTime, clip.Duration)

	wav, err := audio.EncodeWAV(isolated)
	if err != nil {
		return project.Clip{}, fmt.Errorf("encode isolated audio: %w", err)
	}
	peaks := audio.ComputePeaks(isolated, p.opts.PeakCount)

	isolatedKey, err := p.blobs.Save(ctx, storage.Key(projectID, clipID, storage.PurposeIsolated), wav)
	if err != nil {
		return project.Clip{}, fmt.Errorf("save isolated audio: %w", err)
	}
	cumulativeKey, err := p.blobs.Save(ctx, storage.Key(projectID, clipID, storage.PurposeCumulative), mix)
	if err != nil {
		return project.Clip{}, fmt.Errorf("save cumulative mix: %w", err)
	}

	return p.store.UpdateClipStatus(clipID, project.StatusReady, func(c *project.Clip) {
		c.CumulativeMixKey = cumulativeKey
		c.IsolatedAudioKey = isolatedKey
		c.WaveformPeaks = peaks
		c.InferredMetas = metas
		c.AudioDuration = clip.Duration
		c.AudioOffset = 0
	})
}

func (p *Pipeline) generateSync(ctx context.Context, jobID string, srcAudio []byte, params acestep.LegoParams) ([]byte, *project.InferredMetas, error) {
	if p.backends.Sync == nil {
		return nil, nil, ErrNoBackend
	}
	p.jobs.Update(jobID, func(j *Job) {
		j.Progress = "Generating via Modal (this may take a minute)..."
	})

	res, err := p.backends.Sync.Generate(ctx, srcAudio, params)
	if err != nil {
		return nil, nil, err
	}
	var metas *project.InferredMetas
	if res.Metas != nil {
		metas = inferredMetas(*res.Metas, res.SeedValue, res.DitModel)
	}
	return res.Audio, metas, nil
}

func (p *Pipeline) generateQueued(ctx context.Context, jobID, clipID string, srcAudio []byte, params acestep.LegoParams) ([]byte, *project.InferredMetas, error) {
	queue := p.backends.Queue
	if queue == nil {
		return nil, nil, ErrNoBackend
	}

	released, err := queue.ReleaseLegoTask(ctx, srcAudio, params)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Task released",
		logger.String("clip_id", clipID),
		logger.String("task_id", released.TaskID),
		logger.Int("queue_position", released.QueuePosition))

	item, err := p.poll(ctx, jobID, released.TaskID)
	if err != nil {
		return nil, nil, err
	}

	p.jobs.Update(jobID, func(j *Job) {
		j.Status = JobProcessing
		j.Progress = "Downloading audio..."
	})
	if _, err := p.store.UpdateClipStatus(clipID, project.StatusProcessing, nil); err != nil {
		return nil, nil, err
	}

	mix, err := queue.Download(ctx, item.File)
	if err != nil {
		return nil, nil, err
	}
	return mix, inferredMetas(item.Metas, string(item.SeedValue), item.DitModel), nil
}

// poll waits for a queued task, copying its progress text onto the job.
// Query errors are logged and retried until the deadline.
func (p *Pipeline) poll(ctx context.Context, jobID, taskID string) (acestep.ResultItem, error) {
	deadline := time.Now().Add(p.opts.MaxPollDuration)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return acestep.ResultItem{}, ctx.Err()
		case <-time.After(p.opts.PollInterval):
		}

		entries, err := p.backends.Queue.QueryResult(ctx, taskID)
		if err != nil {
			logger.Warn("Poll error, retrying", logger.String("task_id", taskID), logger.ErrorField(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		entry := entries[0]

		progress := entry.ProgressText
		if progress == "" {
			progress = "Generating..."
		}
		p.jobs.Update(jobID, func(j *Job) { j.Progress = progress })

		switch entry.Status {
		case acestep.TaskSucceeded:
			items, err := entry.Items()
			if err != nil {
				return acestep.ResultItem{}, err
			}
			if len(items) == 0 || items[0].File == "" {
				return acestep.ResultItem{}, errors.New("no audio file in result")
			}
			return items[0], nil
		case acestep.TaskFailed:
			return acestep.ResultItem{}, fmt.Errorf("generation failed: %s", entry.Result)
		}
	}
	return acestep.ResultItem{}, ErrTimeout
}

// previousMix loads the cumulative mix this clip builds on, or nil when it
// is the first clip with context. A key whose blob has gone missing is
// treated as no context.
func (p *Pipeline) previousMix(ctx context.Context, clipID string) ([]byte, error) {
	prev, ok, err := p.store.PreviousMixClip(clipID)
	if err != nil || !ok {
		return nil, err
	}
	data, err := p.blobs.Load(ctx, prev.CumulativeMixKey)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Previous cumulative mix missing, starting from silence",
			logger.String("clip_id", clipID), logger.String("key", prev.CumulativeMixKey))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load previous mix: %w", err)
	}
	return data, nil
}

func (p *Pipeline) fail(clipID, jobID string, err error) {
	msg := err.Error()
	logger.Error("Clip generation failed",
		logger.String("clip_id", clipID), logger.String("job_id", jobID), logger.ErrorField(err))

	if _, uerr := p.store.UpdateClipStatus(clipID, project.StatusError, func(c *project.Clip) {
		c.ErrorMessage = msg
	}); uerr != nil {
		logger.Warn("Could not record clip error", logger.String("clip_id", clipID), logger.ErrorField(uerr))
	}
	p.jobs.Update(jobID, func(j *Job) {
		j.Status = JobError
		j.Progress = msg
		j.Error = msg
	})
}
