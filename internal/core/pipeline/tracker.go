package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/alzaio/anyvideodownload/internal/core/job"
)

// Snapshot is the externally visible status of a requester's latest job.
// Values are copies; the tracker never hands out live job pointers.
type Snapshot struct {
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	State     job.State `json:"state"`
	Phase     job.Phase `json:"phase,omitempty"`
	Done      int64     `json:"done"`
	Total     int64     `json:"total"`
	Position  int       `json:"position,omitempty"`
	Error     string    `json:"error,omitempty"`
	Delivered int64     `json:"delivered,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps the last-known snapshot per requester so the API can answer
// status polls without touching worker state.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]Snapshot)}
}

// Track records a fresh snapshot for a newly admitted job, replacing any
// snapshot left over from the requester's previous job.
func (t *Tracker) Track(j *job.Job, position int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[j.RequesterKey] = Snapshot{
		JobID:     j.ID,
		URL:       j.SourceURL,
		State:     j.State,
		Position:  position,
		UpdatedAt: time.Now(),
	}
}

// Update refreshes the mutable fields from the job's current progress.
func (t *Tracker) Update(j *job.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.jobs[j.RequesterKey]
	if !ok || snap.JobID != j.ID {
		return
	}
	snap.State = j.State
	snap.Title = j.Title
	snap.Phase = j.Progress.Phase
	snap.Done = j.Progress.Done
	snap.Total = j.Progress.Total
	snap.Position = 0
	snap.UpdatedAt = time.Now()
	t.jobs[j.RequesterKey] = snap
}

// Finish pins the terminal state. A nil reason marks success.
func (t *Tracker) Finish(j *job.Job, reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.jobs[j.RequesterKey]
	if !ok || snap.JobID != j.ID {
		return
	}
	snap.State = j.State
	snap.Title = j.Title
	snap.Position = 0
	snap.Delivered = j.Delivered
	if reason != nil && !errors.Is(reason, job.ErrCancelled) {
		snap.Error = reason.Error()
	}
	snap.UpdatedAt = time.Now()
	t.jobs[j.RequesterKey] = snap
}

// Get returns the snapshot for a requester, if any job was ever tracked.
func (t *Tracker) Get(requesterKey string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.jobs[requesterKey]
	return snap, ok
}
