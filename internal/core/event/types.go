package event

import "time"

type EventType string

const (
	// Job lifecycle
	EventJobQueued    EventType = "job.queued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type JobEvent struct {
	JobID        string
	RequesterKey string
	Title        string
	Phase        string
	Done         int64
	Total        int64
	Position     int   // queue position at submission, 0 when started immediately
	Delivered    int64 // bytes delivered, set on job.completed
	Error        string
}
