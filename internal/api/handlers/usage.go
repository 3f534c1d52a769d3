package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alzaio/anyvideodownload/internal/stats"
)

type UsageHandler struct {
	store *stats.Store
}

func NewUsageHandler(store *stats.Store) *UsageHandler {
	return &UsageHandler{store: store}
}

func (h *UsageHandler) Get(ctx context.Context, input *RequesterInput) (*DataOutput[stats.Usage], error) {
	u, err := h.store.Get(ctx, input.Key)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read usage", err)
	}
	return OK(u), nil
}

type TopUsageInput struct {
	Limit int `query:"limit" default:"10" minimum:"1" maximum:"100" doc:"Max results"`
}

func (h *UsageHandler) Top(ctx context.Context, input *TopUsageInput) (*DataOutput[[]stats.Usage], error) {
	rows, err := h.store.Top(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read usage", err)
	}
	return OK(rows), nil
}
