package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/songbird-terrace/waivers/internal/store"
)

const (
	DefaultSweepInterval = 10 * time.Minute
	DefaultSweepGrace    = 15 * time.Minute
	sweepBatchSize       = 20
)

// Sweeper periodically re-runs a pipeline for agreements that still have no
// document link, which covers drive uploads lost to outages or restarts.
type Sweeper struct {
	repo     store.Repository
	pipeline *Pipeline
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. The pipeline should only hold channels that
// are safe to repeat; email is left out so operators are not spammed.
func NewSweeper(repo store.Repository, pipeline *Pipeline, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace <= 0 {
		grace = DefaultSweepGrace
	}
	return &Sweeper{
		repo:     repo,
		pipeline: pipeline,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   slog.With("component", "backup-sweeper"),
	}
}

// Start runs the sweeper in a background goroutine until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Backup sweeper started", "interval", s.interval, "grace", s.grace)

		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("Backup sweep failed", "error", err)
				}
			case <-ctx.Done():
				s.logger.Info("Backup sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepOnce retries agreements older than the grace period that have no
// link yet and returns how many were retried.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)
	pending, err := s.repo.ListAgreementsMissingLink(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list agreements missing link: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	s.logger.Info("Backup sweeper found agreements without link", "count", len(pending))

	failed := 0
	for _, a := range pending {
		if ctx.Err() != nil {
			s.logger.Debug("Backup sweep interrupted", "remaining", len(pending))
			return 0, ctx.Err()
		}
		report := s.pipeline.Backup(ctx, a)
		if err := report.Err(); err != nil {
			failed++
			// Push it behind untried agreements so repeat failures
			// cannot fill every batch.
			if err := s.repo.RecordLinkAttempt(ctx, a.ID); err != nil {
				s.logger.Warn("Failed to record link attempt", "agreement_id", a.ID, "error", err)
			}
		}
	}

	s.logger.Info("Backup sweep completed", "retried", len(pending), "failed", failed)
	return len(pending), nil
}
