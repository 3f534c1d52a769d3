package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/pipeline"
)

// MaintenanceHandler removes working directories orphaned by a crash.
// Directories belonging to active or queued jobs are never touched.
type MaintenanceHandler struct {
	downloadDir string
	sched       *pipeline.Scheduler
}

func NewMaintenanceHandler(downloadDir string, sched *pipeline.Scheduler) *MaintenanceHandler {
	return &MaintenanceHandler{downloadDir: downloadDir, sched: sched}
}

type PurgeDTO struct {
	Removed int `json:"removed" doc:"Orphaned directories removed"`
}

func (h *MaintenanceHandler) Purge(ctx context.Context, _ *EmptyInput) (*DataOutput[PurgeDTO], error) {
	entries, err := os.ReadDir(h.downloadDir)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to scan download directory", err)
	}

	live := h.sched.ActiveJobIDs()
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		dir := filepath.Join(h.downloadDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("purge skipped directory")
			continue
		}
		removed++
	}
	return OK(PurgeDTO{Removed: removed}), nil
}
