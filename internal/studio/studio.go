// Package studio holds the project-level operations that touch audio
// outside generation: mix export, file import and removal of clips and
// tracks together with their stored audio.
package studio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/engine"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/mixdown"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/storage"
	"github.com/satindergrewal/layerdaw/internal/subtract"
	"github.com/satindergrewal/layerdaw/internal/transport"
)

// ExportSampleRate is the rate of exported mixes.
const ExportSampleRate = 48000

// ErrTooShort rejects imports that cannot fill a minimum-length clip.
var ErrTooShort = errors.New("audio too short for a clip")

type Studio struct {
	store     *project.Store
	blobs     storage.BlobStore
	transport *transport.Transport
	peakCount int
}

func New(store *project.Store, blobs storage.BlobStore, tr *transport.Transport, peakCount int) *Studio {
	if peakCount <= 0 {
		peakCount = 200
	}
	return &Studio{store: store, blobs: blobs, transport: tr, peakCount: peakCount}
}

// Export renders every playable clip on an unmuted track, at its track
// volume, to a WAV file covering the whole timeline.
func (s *Studio) Export(ctx context.Context) ([]byte, error) {
	p, err := s.store.Project()
	if err != nil {
		return nil, err
	}

	var clips []mixdown.Clip
	for _, t := range p.Tracks {
		if t.Muted {
			continue
		}
		for _, c := range t.Clips {
			if !c.Playable() {
				continue
			}
			data, err := s.blobs.Load(ctx, c.IsolatedAudioKey)
			if err != nil {
				return nil, fmt.Errorf("export clip %s: %w", c.ID, err)
			}
			buf, err := audio.Decode(data)
			if err != nil {
				return nil, fmt.Errorf("export clip %s: %w", c.ID, err)
			}
			clips = append(clips, mixdown.Clip{
				StartTime: c.StartTime,
				Buffer:    subtract.Crop(buf, c.AudioOffset, c.Duration),
				Volume:    t.Volume,
			})
		}
	}

	mix := mixdown.Render(clips, p.TotalDuration, ExportSampleRate)
	out, err := audio.EncodeWAV(mix)
	if err != nil {
		return nil, fmt.Errorf("encode mix: %w", err)
	}
	logger.Info("Mix exported",
		logger.String("project", p.Name),
		logger.Int("clips", len(clips)),
		logger.Float64("duration", p.TotalDuration))
	return out, nil
}

// ImportToTrack places decoded audio on trackID right after its last clip.
func (s *Studio) ImportToTrack(ctx context.Context, trackID, filename string, data []byte) (project.Clip, error) {
	buf, err := decodeImport(data)
	if err != nil {
		return project.Clip{}, err
	}
	p, err := s.store.Project()
	if err != nil {
		return project.Clip{}, err
	}
	t, err := p.Track(trackID)
	if err != nil {
		return project.Clip{}, err
	}

	var start float64
	for _, c := range t.Clips {
		start = max(start, c.End())
	}
	return s.attach(ctx, p, trackID, filename, buf, start)
}

// ImportAsNewTrack creates a custom track named after the file and places
// the audio at the start of the timeline.
func (s *Studio) ImportAsNewTrack(ctx context.Context, filename string, data []byte) (project.Track, project.Clip, error) {
	buf, err := decodeImport(data)
	if err != nil {
		return project.Track{}, project.Clip{}, err
	}
	p, err := s.store.Project()
	if err != nil {
		return project.Track{}, project.Clip{}, err
	}

	track, err := s.store.AddTrack(project.KindCustom)
	if err != nil {
		return project.Track{}, project.Clip{}, err
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name != "" {
		if track, err = s.store.UpdateTrack(track.ID, project.TrackUpdate{DisplayName: &name}); err != nil {
			return project.Track{}, project.Clip{}, err
		}
	}

	clip, err := s.attach(ctx, p, track.ID, filename, buf, 0)
	if err != nil {
		if _, rmErr := s.store.RemoveTrack(track.ID); rmErr != nil {
			logger.Warn("Failed to roll back import track", logger.ErrorField(rmErr))
		}
		return project.Track{}, project.Clip{}, err
	}
	return track, clip, nil
}

func decodeImport(data []byte) (*audio.Buffer, error) {
	buf, err := audio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode import: %w", err)
	}
	if buf.Duration() < project.MinClipDuration {
		return nil, fmt.Errorf("%.2fs: %w", buf.Duration(), ErrTooShort)
	}
	return buf, nil
}

// attach creates a clip at start sized to the audio and the room left on
// the timeline, stores the audio and marks the clip ready.
func (s *Studio) attach(ctx context.Context, p *project.Project, trackID, filename string, buf *audio.Buffer, start float64) (project.Clip, error) {
	duration := min(buf.Duration(), p.TotalDuration-start)
	if duration < project.MinClipDuration {
		return project.Clip{}, fmt.Errorf("no room after %.2fs: %w", start, ErrTooShort)
	}

	clip, err := s.store.AddClip(trackID, project.ClipSpec{
		StartTime: start,
		Duration:  duration,
		Prompt:    "Imported: " + filepath.Base(filename),
	})
	if err != nil {
		return project.Clip{}, err
	}

	id := clip.ID
	trimmed := subtract.Crop(buf, 0, duration)
	wav, err := audio.EncodeWAV(trimmed)
	if err == nil {
		key := storage.Key(p.ID, id, storage.PurposeIsolated)
		if _, err = s.blobs.Save(ctx, key, wav); err == nil {
			peaks := audio.ComputePeaks(trimmed, s.peakCount)
			clip, err = s.store.UpdateClipStatus(id, project.StatusReady, func(c *project.Clip) {
				c.IsolatedAudioKey = key
				c.WaveformPeaks = peaks
				c.AudioDuration = duration
				c.AudioOffset = 0
			})
		}
	}
	if err != nil {
		if _, rmErr := s.store.RemoveClip(id); rmErr != nil {
			logger.Warn("Failed to roll back import clip", logger.ErrorField(rmErr))
		}
		return project.Clip{}, fmt.Errorf("import %s: %w", filename, err)
	}

	logger.Info("Audio imported",
		logger.String("clip_id", clip.ID),
		logger.String("file", filename),
		logger.Float64("duration", duration))
	return clip, nil
}

// RemoveClip deletes a clip and any audio no other clip still uses.
func (s *Studio) RemoveClip(ctx context.Context, clipID string) error {
	clip, err := s.store.RemoveClip(clipID)
	if err != nil {
		return err
	}
	return s.release(ctx, []project.Clip{clip})
}

// RemoveTrack deletes a track, its unshared audio and its mixer channel.
func (s *Studio) RemoveTrack(ctx context.Context, trackID string) error {
	track, err := s.store.RemoveTrack(trackID)
	if err != nil {
		return err
	}
	if err := s.transport.Scheduler().Engine().RemoveChannel(trackID); err != nil && !errors.Is(err, engine.ErrEngineClosed) {
		return err
	}
	return s.release(ctx, track.Clips)
}

func (s *Studio) release(ctx context.Context, removed []project.Clip) error {
	inUse := make(map[string]bool)
	if p, err := s.store.Project(); err == nil {
		for _, t := range p.Tracks {
			for _, c := range t.Clips {
				inUse[c.CumulativeMixKey] = true
				inUse[c.IsolatedAudioKey] = true
			}
		}
	}

	var errs []error
	for _, c := range removed {
		for _, key := range []string{c.CumulativeMixKey, c.IsolatedAudioKey} {
			if key == "" || inUse[key] {
				continue
			}
			s.transport.Forget(key)
			if err := s.blobs.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}
