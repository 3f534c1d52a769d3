// Package job defines the entity tracked through the fetch, transform and
// deliver pipeline, together with its state machine and error taxonomy.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects the requested output kind.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// Quality is a video quality ceiling: a preset height or best-effort.
type Quality string

const (
	QualityBest Quality = "best"
	Quality1080 Quality = "1080"
	Quality720  Quality = "720"
	Quality480  Quality = "480"
	Quality360  Quality = "360"
)

// Height returns the pixel-height ceiling, or 0 for best-effort.
func (q Quality) Height() int {
	switch q {
	case Quality1080:
		return 1080
	case Quality720:
		return 720
	case Quality480:
		return 480
	case Quality360:
		return 360
	default:
		return 0
	}
}

func (q Quality) Valid() bool {
	switch q {
	case QualityBest, Quality1080, Quality720, Quality480, Quality360:
		return true
	}
	return false
}

// State is a job lifecycle state.
type State string

const (
	StateQueued       State = "queued"
	StateRetrieving   State = "retrieving"
	StateTransforming State = "transforming"
	StateDelivering   State = "delivering"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Terminal reports whether the state ends the job.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// transitions lists the forward edges of the state machine. Cancelled and
// Failed are reachable from every non-terminal state.
var transitions = map[State][]State{
	StateQueued:       {StateRetrieving},
	StateRetrieving:   {StateTransforming, StateDelivering},
	StateTransforming: {StateDelivering},
	StateDelivering:   {StateCompleted},
}

// Phase names the pipeline stage a progress snapshot belongs to.
type Phase string

const (
	PhaseRetrieve  Phase = "retrieve"
	PhaseTransform Phase = "transform"
	PhaseDeliver   Phase = "deliver"
)

// Progress is the last-known progress snapshot, overwritten in place.
type Progress struct {
	Phase Phase
	Done  int64
	Total int64 // 0 when unknown
}

// Job is one user-initiated download-and-deliver request. Mutable fields are
// owned by the worker executing the job (single-writer rule); everything else
// is immutable after creation.
type Job struct {
	ID           string
	RequesterKey string
	SourceURL    string
	Mode         Mode
	Quality      Quality

	State        State
	Progress     Progress
	ArtifactPath string
	Title        string
	Delivered    int64 // bytes handed to the transport on success

	CreatedAt time.Time
	StartedAt time.Time
}

// New creates a queued job with a fresh ID.
func New(requesterKey, sourceURL string, mode Mode, quality Quality) *Job {
	return &Job{
		ID:           uuid.NewString(),
		RequesterKey: requesterKey,
		SourceURL:    sourceURL,
		Mode:         mode,
		Quality:      quality,
		State:        StateQueued,
		CreatedAt:    time.Now(),
	}
}

// To advances the job to the next state, enforcing that transitions are
// monotonic along the state machine: no backward edges, no leaving a
// terminal state.
func (j *Job) To(next State) error {
	if j.State == next {
		return nil
	}
	if j.State.Terminal() {
		return fmt.Errorf("job %s: cannot leave terminal state %s", j.ID, j.State)
	}
	if next == StateCancelled || next == StateFailed {
		j.State = next
		return nil
	}
	for _, allowed := range transitions[j.State] {
		if allowed == next {
			j.State = next
			return nil
		}
	}
	return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.State, next)
}

// SetProgress overwrites the snapshot. Done never decreases within a phase.
func (j *Job) SetProgress(phase Phase, done, total int64) {
	if j.Progress.Phase == phase && done < j.Progress.Done {
		done = j.Progress.Done
	}
	j.Progress = Progress{Phase: phase, Done: done, Total: total}
}
