package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alzaio/anyvideodownload/internal/api/middleware"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/job"
	"github.com/alzaio/anyvideodownload/internal/core/pipeline"
	"github.com/alzaio/anyvideodownload/internal/format"
)

const probeTimeout = 20 * time.Second

type JobsHandler struct {
	sched    *pipeline.Scheduler
	fetcher  fetch.Fetcher
	maxBytes int64
}

func NewJobsHandler(sched *pipeline.Scheduler, fetcher fetch.Fetcher, maxBytes int64) *JobsHandler {
	return &JobsHandler{sched: sched, fetcher: fetcher, maxBytes: maxBytes}
}

type SubmitJobInput struct {
	Body struct {
		RequesterKey string `json:"requester_key,omitempty" doc:"Destination the artifact is delivered to; defaults to the authenticated subject. One job per key at a time"`
		URL          string `json:"url" minLength:"1" doc:"Source media URL"`
		Mode         string `json:"mode" enum:"audio,video" default:"video" doc:"Output kind"`
		Quality      string `json:"quality,omitempty" enum:"best,1080,720,480,360" doc:"Video height ceiling"`
		SkipProbe    bool   `json:"skip_probe,omitempty" doc:"Skip the size pre-check"`
	}
}

type SubmitJobDTO struct {
	JobID    string `json:"job_id" doc:"Job ID"`
	Position int    `json:"position" doc:"Queue position, 0 when started immediately"`
	Title    string `json:"title,omitempty" doc:"Probed title, when available"`
	Warning  string `json:"warning,omitempty" doc:"Advisory from the size pre-check"`
}

func (h *JobsHandler) Submit(ctx context.Context, input *SubmitJobInput) (*DataOutput[SubmitJobDTO], error) {
	requester := input.Body.RequesterKey
	if requester == "" {
		requester = middleware.GetSubject(ctx)
	}
	if requester == "" {
		return nil, huma.Error422UnprocessableEntity("requester_key is required")
	}

	mode := job.Mode(input.Body.Mode)
	if mode == "" {
		mode = job.ModeVideo
	}
	quality := job.Quality(input.Body.Quality)
	if quality == "" {
		quality = job.QualityBest
	}
	if !quality.Valid() {
		return nil, huma.Error422UnprocessableEntity("unknown quality preset")
	}

	dto := SubmitJobDTO{}
	if !input.Body.SkipProbe {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		info, err := h.fetcher.Probe(probeCtx, input.Body.URL)
		cancel()
		switch {
		case errors.Is(err, job.ErrInvalidSource),
			errors.Is(err, job.ErrGeoRestricted),
			errors.Is(err, job.ErrLiveUnsupported):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		case err != nil:
			// Probe trouble is advisory only; the fetch phase gives the
			// authoritative verdict.
			dto.Warning = "size pre-check unavailable"
		case info.Size > h.maxBytes && h.maxBytes > 0:
			return nil, huma.Error422UnprocessableEntity(
				"estimated size " + format.Bytes(info.Size) + " exceeds the delivery limit of " + format.Bytes(h.maxBytes))
		default:
			dto.Title = info.Title
		}
	}

	j := job.New(requester, input.Body.URL, mode, quality)
	position, err := h.sched.Submit(j)
	if err != nil {
		return nil, mapSubmitError(err)
	}
	dto.JobID = j.ID
	dto.Position = position
	return OK(dto), nil
}

type RequesterInput struct {
	Key string `path:"key" doc:"Requester key"`
}

type JobStatusDTO struct {
	JobID     string  `json:"job_id" doc:"Job ID"`
	URL       string  `json:"url" doc:"Source URL"`
	Title     string  `json:"title,omitempty" doc:"Resolved title"`
	State     string  `json:"state" doc:"Lifecycle state"`
	Phase     string  `json:"phase,omitempty" doc:"Running phase"`
	Done      int64   `json:"done" doc:"Bytes processed in the current phase"`
	Total     int64   `json:"total" doc:"Phase total, 0 when unknown"`
	Percent   float64 `json:"percent" doc:"Phase completion percentage"`
	Position  int     `json:"position,omitempty" doc:"Queue position, when queued"`
	Error     string  `json:"error,omitempty" doc:"Failure reason"`
	Delivered int64   `json:"delivered,omitempty" doc:"Bytes delivered on success"`
}

func (h *JobsHandler) Status(ctx context.Context, input *RequesterInput) (*DataOutput[JobStatusDTO], error) {
	snap, ok := h.sched.Snapshot(input.Key)
	if !ok {
		return nil, huma.Error404NotFound("no job for this requester")
	}
	return OK(JobStatusDTO{
		JobID:     snap.JobID,
		URL:       snap.URL,
		Title:     snap.Title,
		State:     string(snap.State),
		Phase:     string(snap.Phase),
		Done:      snap.Done,
		Total:     snap.Total,
		Percent:   format.Percent(snap.Done, snap.Total),
		Position:  snap.Position,
		Error:     snap.Error,
		Delivered: snap.Delivered,
	}), nil
}

func (h *JobsHandler) Cancel(ctx context.Context, input *RequesterInput) (*MsgOutput, error) {
	h.sched.Cancel(input.Key)
	return Msg("cancellation requested"), nil
}

type EmptyInput struct{}

type PoolDTO struct {
	Active int `json:"active" doc:"Jobs holding a worker slot"`
	Queued int `json:"queued" doc:"Jobs waiting for a slot"`
}

func (h *JobsHandler) Pool(ctx context.Context, _ *EmptyInput) (*DataOutput[PoolDTO], error) {
	stats := h.sched.Stats()
	return OK(PoolDTO{Active: stats.Active, Queued: stats.Queued}), nil
}

type ProbeInput struct {
	Body struct {
		URL string `json:"url" minLength:"1" doc:"Source media URL"`
	}
}

type ProbeDTO struct {
	Title string `json:"title" doc:"Media title"`
	Size  int64  `json:"size" doc:"Estimated size in bytes, 0 when unknown"`
	Human string `json:"human_size" doc:"Human-readable size"`
}

func (h *JobsHandler) Probe(ctx context.Context, input *ProbeInput) (*DataOutput[ProbeDTO], error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	info, err := h.fetcher.Probe(probeCtx, input.Body.URL)
	if err != nil {
		return nil, mapProbeError(err)
	}
	return OK(ProbeDTO{Title: info.Title, Size: info.Size, Human: format.Bytes(info.Size)}), nil
}

func mapSubmitError(err error) error {
	switch {
	case errors.Is(err, job.ErrAlreadyRunning):
		return huma.Error409Conflict("a job for this requester is already in flight")
	case errors.Is(err, job.ErrShuttingDown):
		return huma.Error503ServiceUnavailable("server is shutting down")
	default:
		return huma.Error500InternalServerError("could not admit job", err)
	}
}

func mapProbeError(err error) error {
	switch {
	case errors.Is(err, job.ErrInvalidSource):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, job.ErrGeoRestricted), errors.Is(err, job.ErrLiveUnsupported):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error502BadGateway("probe failed", err)
	}
}
