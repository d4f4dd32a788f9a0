package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsConflictError reports SQLite lock contention (SQLITE_BUSY or
// "database is locked"). These are worth retrying.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsUniqueViolation reports a unique-constraint failure on either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SetPDFURLWithRetry writes the document link with exponential backoff on
// lock contention. The link is a convenience cache, so callers log the
// returned error and move on.
func SetPDFURLWithRetry(ctx context.Context, repo Repository, agreementID, url string) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := repo.SetPDFURL(ctx, agreementID, url)
		if err == nil {
			return nil
		}

		if IsConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
			slog.Debug("Database locked during pdf_url update, retrying",
				"agreement_id", agreementID,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return fmt.Errorf("set pdf_url for %s after %d attempts: %w", agreementID, i+1, err)
	}

	return nil
}
