// Package stats records per-requester usage totals in PostgreSQL. The store
// is optional; without a database URL the server simply runs without it.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/alzaio/anyvideodownload/internal/core/event"
)

// Usage is the lifetime total for one requester.
type Usage struct {
	RequesterKey    string    `json:"requester_key"`
	JobsCompleted   int64     `json:"jobs_completed"`
	BytesDelivered  int64     `json:"bytes_delivered"`
	LastCompletedAt time.Time `json:"last_completed_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordCompletion increments the requester's counters after a delivery.
func (s *Store) RecordCompletion(ctx context.Context, requesterKey string, bytes int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_stats (requester_key, jobs_completed, bytes_delivered, last_completed_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (requester_key) DO UPDATE SET
			jobs_completed = usage_stats.jobs_completed + 1,
			bytes_delivered = usage_stats.bytes_delivered + EXCLUDED.bytes_delivered,
			last_completed_at = NOW()
	`, requesterKey, bytes)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

// Get returns the usage row for a requester; zero totals when none exists.
func (s *Store) Get(ctx context.Context, requesterKey string) (Usage, error) {
	u := Usage{RequesterKey: requesterKey}
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT jobs_completed, bytes_delivered, last_completed_at
		FROM usage_stats WHERE requester_key = $1
	`, requesterKey).Scan(&u.JobsCompleted, &u.BytesDelivered, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get usage: %w", err)
	}
	if last != nil {
		u.LastCompletedAt = *last
	}
	return u, nil
}

// Top returns the heaviest requesters by delivered bytes.
func (s *Store) Top(ctx context.Context, limit int) ([]Usage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT requester_key, jobs_completed, bytes_delivered, last_completed_at
		FROM usage_stats ORDER BY bytes_delivered DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		var last *time.Time
		if err := rows.Scan(&u.RequesterKey, &u.JobsCompleted, &u.BytesDelivered, &last); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if last != nil {
			u.LastCompletedAt = *last
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Attach subscribes the store to completion events. Recording is best effort;
// a broken database never fails a job.
func (s *Store) Attach(bus event.Bus) (detach func()) {
	return bus.Subscribe(event.EventJobCompleted, func(ctx context.Context, e event.Event) error {
		payload, ok := e.Payload.(event.JobEvent)
		if !ok {
			return fmt.Errorf("stats: unexpected payload %T", e.Payload)
		}
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.RecordCompletion(recordCtx, payload.RequesterKey, payload.Delivered); err != nil {
			log.Warn().Err(err).Str("requester", payload.RequesterKey).Msg("usage not recorded")
		}
		return nil
	})
}
