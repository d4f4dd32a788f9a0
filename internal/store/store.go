// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
)

// Repository defines the interface for persisting templates, signing
// sessions and signed agreements.
//
// Lookups return (nil, nil) when the row does not exist. Mutations that
// target a missing session return domain.ErrSessionNotFound.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// SaveTemplate inserts a new template version. ID and CreatedAt must be
	// set by the caller; Version is assigned by the store.
	SaveTemplate(ctx context.Context, tpl *domain.AgreementTemplate) error

	// LatestTemplate returns the most recently created template.
	LatestTemplate(ctx context.Context) (*domain.AgreementTemplate, error)

	// CreateSession inserts a pending signing session.
	CreateSession(ctx context.Context, session *domain.SigningSession) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*domain.SigningSession, error)

	// ListSessions returns all sessions newest first with a summary of the
	// signed agreement (no signature image or snapshot) when present.
	ListSessions(ctx context.Context) ([]*domain.SigningSession, error)

	// DeleteSession removes the session and its signed agreement in one
	// transaction.
	DeleteSession(ctx context.Context, id string) error

	// SignSession marks the session signed and inserts the agreement in one
	// transaction. Returns domain.ErrAlreadySigned if another submission won.
	SignSession(ctx context.Context, agreement *domain.SignedAgreement) error

	// GetSignedAgreement retrieves the agreement belonging to a session.
	GetSignedAgreement(ctx context.Context, sessionID string) (*domain.SignedAgreement, error)

	// SetPDFURL back-fills the external document link of an agreement.
	SetPDFURL(ctx context.Context, agreementID, url string) error

	// RecordLinkAttempt counts one failed retry for an agreement so the next
	// listing puts it behind agreements that were tried less often.
	RecordLinkAttempt(ctx context.Context, agreementID string) error

	// ListAgreementsMissingLink returns agreements signed before the given
	// time that still have no document link, fewest attempts first, then
	// oldest first.
	ListAgreementsMissingLink(ctx context.Context, signedBefore time.Time, limit int) ([]*domain.SignedAgreement, error)
}

// Open picks the backend from the connection string: postgres:// and
// postgresql:// URLs use Postgres, anything else is a SQLite file path.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	if IsPostgresURL(databaseURL) {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(strings.TrimPrefix(databaseURL, "file:"))
}

// IsPostgresURL reports whether the connection string targets Postgres.
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}
