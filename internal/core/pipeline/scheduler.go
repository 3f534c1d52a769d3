// Package pipeline drives jobs through fetch, transform and deliver under a
// fixed-size worker pool with FIFO overflow queueing and per-requester
// admission control.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/deliver"
	"github.com/alzaio/anyvideodownload/internal/core/event"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/job"
	"github.com/alzaio/anyvideodownload/internal/core/transform"
)

type Config struct {
	Workers              int
	DownloadDir          string
	MaxBytes             int64 // hard delivery ceiling
	CompressionThreshold int64 // videos above this go through the transcoder
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Active int
	Queued int
}

// Scheduler owns the worker slots, the FIFO overflow queue and the set of
// active requester keys. The queue and the active set share one critical
// section so a requester can never appear in both.
type Scheduler struct {
	cfg        Config
	fetcher    fetch.Fetcher
	compressor transform.Compressor
	deliverer  *deliver.Adapter
	registry   *cancel.Registry
	bus        event.Bus
	tracker    *Tracker

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*job.Job // requesterKey -> running job
	queue   []*job.Job          // FIFO overflow
	running int
	closed  bool
	wg      sync.WaitGroup
}

func NewScheduler(
	cfg Config,
	fetcher fetch.Fetcher,
	compressor transform.Compressor,
	deliverer *deliver.Adapter,
	registry *cancel.Registry,
	bus event.Bus,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		compressor: compressor,
		deliverer:  deliverer,
		registry:   registry,
		bus:        bus,
		tracker:    NewTracker(),
		baseCtx:    ctx,
		baseCancel: cancelFn,
		active:     make(map[string]*job.Job),
	}
}

// Submit admits a job. Returns 0 when a worker slot was free and the job
// started immediately, or the 1-based queue position. A requester with a job
// already active or queued is rejected with ErrAlreadyRunning.
func (s *Scheduler) Submit(j *job.Job) (int, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return 0, job.ErrShuttingDown
	}
	if _, ok := s.active[j.RequesterKey]; ok {
		s.mu.Unlock()
		return 0, job.ErrAlreadyRunning
	}
	for _, q := range s.queue {
		if q.RequesterKey == j.RequesterKey {
			s.mu.Unlock()
			return 0, job.ErrAlreadyRunning
		}
	}

	// The token must exist before the job is visible to cancellers so an
	// early Cancel is never lost.
	tok := s.registry.Register(j.RequesterKey)
	s.tracker.Track(j, 0)

	var position int
	var starting bool
	if s.running < s.cfg.Workers {
		s.running++
		s.active[j.RequesterKey] = j
		s.wg.Add(1)
		starting = true
	} else {
		s.queue = append(s.queue, j)
		position = len(s.queue)
		s.tracker.Track(j, position)
	}
	s.mu.Unlock()

	// The admission event goes out before the worker starts so it cannot
	// arrive after the job's terminal event.
	s.publish(event.EventJobQueued, event.JobEvent{
		JobID:        j.ID,
		RequesterKey: j.RequesterKey,
		Position:     position,
	})
	if starting {
		go s.run(j, tok)
	}
	return position, nil
}

// Cancel requests cancellation of the requester's job. Queued jobs terminate
// immediately; running jobs observe the signal at their next suspension
// point. Unknown keys are a no-op.
func (s *Scheduler) Cancel(requesterKey string) {
	s.mu.Lock()
	for i, q := range s.queue {
		if q.RequesterKey == requesterKey {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.registry.Clear(requesterKey)
			_ = q.To(job.StateCancelled)
			s.tracker.Finish(q, job.ErrCancelled)
			s.mu.Unlock()

			s.publish(event.EventJobCancelled, event.JobEvent{
				JobID:        q.ID,
				RequesterKey: q.RequesterKey,
				Title:        q.Title,
			})
			return
		}
	}
	s.mu.Unlock()

	s.registry.Signal(requesterKey)
}

// Stats reports current pool occupancy.
func (s *Scheduler) Stats() PoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PoolStats{Active: s.running, Queued: len(s.queue)}
}

// Position returns the requester's standing in the queue: 0 when active or
// unknown, 1-based index otherwise. Stable under repeated polling.
func (s *Scheduler) Position(requesterKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q.RequesterKey == requesterKey {
			return i + 1
		}
	}
	return 0
}

// Snapshot returns the last-known status for a requester's most recent job.
func (s *Scheduler) Snapshot(requesterKey string) (Snapshot, bool) {
	return s.tracker.Get(requesterKey)
}

// ActiveJobIDs lists ids of jobs currently active or queued. Used by
// maintenance to spare their working directories.
func (s *Scheduler) ActiveJobIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.active)+len(s.queue))
	for _, j := range s.active {
		ids[j.ID] = struct{}{}
	}
	for _, j := range s.queue {
		ids[j.ID] = struct{}{}
	}
	return ids
}

// Close stops admission, drops queued jobs (each gets a terminal
// cancellation) and waits for in-flight workers until ctx expires, at which
// point they are aborted.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := s.queue
	s.queue = nil
	for _, q := range dropped {
		s.registry.Clear(q.RequesterKey)
		_ = q.To(job.StateCancelled)
		s.tracker.Finish(q, job.ErrShuttingDown)
	}
	s.mu.Unlock()

	for _, q := range dropped {
		s.publish(event.EventJobCancelled, event.JobEvent{
			JobID:        q.ID,
			RequesterKey: q.RequesterKey,
			Title:        q.Title,
		})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached, aborting in-flight jobs")
		s.baseCancel()
		<-done
		return ctx.Err()
	}
}

// release frees the worker slot and promotes the queue head, both inside the
// same critical section that guards admission.
func (s *Scheduler) release(requesterKey string) {
	s.mu.Lock()
	delete(s.active, requesterKey)
	s.running--

	if len(s.queue) > 0 && s.running < s.cfg.Workers && !s.closed {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		s.active[next.RequesterKey] = next
		tok := s.registry.Token(next.RequesterKey)
		s.wg.Add(1)
		go s.run(next, tok)
	}
	s.mu.Unlock()
}

func (s *Scheduler) publish(t event.EventType, payload event.JobEvent) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(s.baseCtx, event.Event{Type: t, Timestamp: time.Now(), Payload: payload})
}
