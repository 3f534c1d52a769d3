package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/event"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/job"
)

// run executes one job on a worker slot. The deferred chain guarantees that,
// in order: a terminal event is published even on panic, the working
// directory is removed, the cancel token is cleared, and the slot is
// released (which may promote the next queued job).
func (s *Scheduler) run(j *job.Job, tok *cancel.Token) {
	defer s.wg.Done()
	defer s.release(j.RequesterKey)
	defer s.registry.Clear(j.RequesterKey)
	defer s.cleanup(j)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", j.ID).
				Interface("panic", r).
				Msg("worker panicked")
			s.finish(j, fmt.Errorf("%w: worker panic", job.ErrUnknown))
		}
	}()

	j.StartedAt = time.Now()
	s.finish(j, s.execute(s.baseCtx, j, tok))
}

// execute drives the job through its phases. It returns nil only after the
// artifact has been handed to the transport in full.
func (s *Scheduler) execute(ctx context.Context, j *job.Job, tok *cancel.Token) error {
	if tok.Cancelled() {
		return job.ErrCancelled
	}

	if err := j.To(job.StateRetrieving); err != nil {
		return err
	}
	s.tracker.Update(j)
	s.publish(event.EventJobStarted, event.JobEvent{
		JobID:        j.ID,
		RequesterKey: j.RequesterKey,
	})

	res, err := s.fetcher.Fetch(ctx, fetch.Request{
		JobID:   j.ID,
		URL:     j.SourceURL,
		Mode:    j.Mode,
		Quality: j.Quality,
	}, s.progressSink(j, job.PhaseRetrieve), tok)
	if err != nil {
		return err
	}
	j.Title = res.Title
	j.ArtifactPath = res.Path
	size := res.Size

	if s.cfg.MaxBytes > 0 && size > s.cfg.MaxBytes {
		return job.ErrTooLarge
	}

	if j.Mode == job.ModeVideo && s.cfg.CompressionThreshold > 0 && size > s.cfg.CompressionThreshold {
		if err := j.To(job.StateTransforming); err != nil {
			return err
		}
		s.tracker.Update(j)

		out, err := s.compressor.Compress(ctx, j.ArtifactPath, tok)
		switch {
		case err == nil:
		case errors.Is(err, job.ErrTransformTimeout):
			// The original stays deliverable as long as it fits.
			log.Warn().Str("job_id", j.ID).Msg("transcode timed out, delivering original")
		default:
			return err
		}
		if out != "" {
			j.ArtifactPath = out
		}
		if fi, statErr := os.Stat(j.ArtifactPath); statErr == nil {
			size = fi.Size()
		}
		if s.cfg.MaxBytes > 0 && size > s.cfg.MaxBytes {
			return job.ErrTooLarge
		}
	}

	if tok.Cancelled() {
		return job.ErrCancelled
	}

	if err := j.To(job.StateDelivering); err != nil {
		return err
	}
	s.tracker.Update(j)

	sent, err := s.deliverer.Deliver(ctx, j.RequesterKey, j.ArtifactPath, j.Title, s.progressSink(j, job.PhaseDeliver), tok)
	if err != nil {
		return err
	}
	j.Delivered = sent
	return nil
}

// finish pins the terminal state and publishes exactly one terminal event.
// Safe to call twice; the second call is a no-op.
func (s *Scheduler) finish(j *job.Job, reason error) {
	if j.State.Terminal() {
		return
	}
	switch {
	case reason == nil:
		_ = j.To(job.StateCompleted)
		s.tracker.Finish(j, nil)
		s.publish(event.EventJobCompleted, event.JobEvent{
			JobID:        j.ID,
			RequesterKey: j.RequesterKey,
			Title:        j.Title,
			Delivered:    j.Delivered,
		})
	case errors.Is(reason, job.ErrCancelled),
		errors.Is(reason, job.ErrShuttingDown),
		errors.Is(reason, context.Canceled):
		_ = j.To(job.StateCancelled)
		s.tracker.Finish(j, job.ErrCancelled)
		s.publish(event.EventJobCancelled, event.JobEvent{
			JobID:        j.ID,
			RequesterKey: j.RequesterKey,
			Title:        j.Title,
		})
	default:
		_ = j.To(job.StateFailed)
		s.tracker.Finish(j, reason)
		s.publish(event.EventJobFailed, event.JobEvent{
			JobID:        j.ID,
			RequesterKey: j.RequesterKey,
			Title:        j.Title,
			Error:        reason.Error(),
		})
	}
}

// cleanup removes the per-job working directory regardless of outcome.
func (s *Scheduler) cleanup(j *job.Job) {
	dir := filepath.Join(s.cfg.DownloadDir, j.ID)
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("job_id", j.ID).Str("dir", dir).Msg("failed to remove working directory")
	}
}

// progressSink publishes throttled progress updates for whichever phase is
// running. Throttling happens upstream in the fetcher and delivery adapter.
func (s *Scheduler) progressSink(j *job.Job, phase job.Phase) func(done, total int64) {
	return func(done, total int64) {
		j.SetProgress(phase, done, total)
		s.tracker.Update(j)
		s.publish(event.EventJobProgress, event.JobEvent{
			JobID:        j.ID,
			RequesterKey: j.RequesterKey,
			Title:        j.Title,
			Phase:        string(phase),
			Done:         j.Progress.Done,
			Total:        j.Progress.Total,
		})
	}
}
