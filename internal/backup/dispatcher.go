package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
)

// DefaultRunTimeout bounds a single detached backup run.
const DefaultRunTimeout = 2 * time.Minute

// Dispatcher runs backups in the background, detached from the request
// that triggered them.
type Dispatcher struct {
	pipeline *Pipeline
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses
// DefaultRunTimeout.
func NewDispatcher(pipeline *Pipeline, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Dispatcher{
		pipeline: pipeline,
		timeout:  timeout,
		logger:   slog.With("component", "backup-dispatcher"),
	}
}

// Dispatch starts a backup run and returns immediately.
func (d *Dispatcher) Dispatch(a *domain.SignedAgreement) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Backup run panicked", "agreement_id", a.ID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		report := d.pipeline.Backup(ctx, a)
		if err := report.Err(); err != nil {
			d.logger.Warn("Backup run finished with failures",
				"agreement_id", a.ID,
				"duration", time.Since(start),
				"error", err)
			return
		}
		d.logger.Info("Backup run finished", "agreement_id", a.ID, "duration", time.Since(start))
	}()
}

// Wait blocks until in-flight runs finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
