package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/songbird-terrace/waivers/internal/domain"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to Postgres and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveTemplate inserts a new template version.
func (s *PostgresStore) SaveTemplate(ctx context.Context, tpl *domain.AgreementTemplate) error {
	updatedAt := tpl.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = tpl.CreatedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer pgRollback(ctx, tx)

	// Serialises concurrent edits so versions stay unique.
	if _, err := tx.Exec(ctx, `LOCK TABLE agreement_templates IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock templates: %w", err)
	}
	var version int
	err = tx.QueryRow(ctx, `
		INSERT INTO agreement_templates (id, name, content, version, created_at, updated_at)
		SELECT $1::text, $2::text, $3::text, COALESCE(MAX(version), 0) + 1, $4::timestamptz, $5::timestamptz FROM agreement_templates
		RETURNING version`,
		tpl.ID, tpl.Name, tpl.Content, tpl.CreatedAt, updatedAt,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit template: %w", err)
	}

	tpl.Version = version
	tpl.UpdatedAt = updatedAt
	return nil
}

// LatestTemplate returns the most recently created template.
func (s *PostgresStore) LatestTemplate(ctx context.Context) (*domain.AgreementTemplate, error) {
	var tpl domain.AgreementTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, content, version, created_at, updated_at
		FROM agreement_templates ORDER BY version DESC LIMIT 1`).
		Scan(&tpl.ID, &tpl.Name, &tpl.Content, &tpl.Version, &tpl.CreatedAt, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan template row: %w", err)
	}
	tpl.CreatedAt = tpl.CreatedAt.UTC()
	tpl.UpdatedAt = tpl.UpdatedAt.UTC()
	return &tpl, nil
}

// CreateSession inserts a pending signing session.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.SigningSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signing_sessions (id, designated_name, designated_email, description, is_signed, template_id, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)`,
		session.ID, nullString(session.DesignatedName), nullString(session.DesignatedEmail),
		nullString(session.Description), nullString(session.TemplateID), session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.SigningSession, error) {
	var session domain.SigningSession
	var name, email, description, templateID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, designated_name, designated_email, description, is_signed, template_id, created_at
		FROM signing_sessions WHERE id = $1`, id).
		Scan(&session.ID, &name, &email, &description, &session.IsSigned, &templateID, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.DesignatedName = deref(name)
	session.DesignatedEmail = deref(email)
	session.Description = deref(description)
	session.TemplateID = deref(templateID)
	session.CreatedAt = session.CreatedAt.UTC()
	return &session, nil
}

// ListSessions returns all sessions newest first.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]*domain.SigningSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.designated_name, s.designated_email, s.description, s.is_signed, s.template_id, s.created_at,
		       a.id, a.customer_name, a.customer_email, a.signed_at, a.pdf_url
		FROM signing_sessions s
		LEFT JOIN signed_agreements a ON a.session_id = s.id
		ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.SigningSession
	for rows.Next() {
		var session domain.SigningSession
		var name, email, description, templateID *string
		var agreementID, customerName, customerEmail, pdfURL *string
		var signedAt *time.Time
		if err := rows.Scan(
			&session.ID, &name, &email, &description, &session.IsSigned, &templateID, &session.CreatedAt,
			&agreementID, &customerName, &customerEmail, &signedAt, &pdfURL,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		session.DesignatedName = deref(name)
		session.DesignatedEmail = deref(email)
		session.Description = deref(description)
		session.TemplateID = deref(templateID)
		session.CreatedAt = session.CreatedAt.UTC()
		if agreementID != nil {
			a := &domain.SignedAgreement{
				ID:            *agreementID,
				SessionID:     session.ID,
				CustomerName:  deref(customerName),
				CustomerEmail: deref(customerEmail),
				PDFURL:        deref(pdfURL),
			}
			if signedAt != nil {
				a.SignedAt = signedAt.UTC()
			}
			session.Agreement = a
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the agreement (if any) and then the session.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer pgRollback(ctx, tx)

	if _, err := tx.Exec(ctx, `DELETE FROM signed_agreements WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete signed agreement: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM signing_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// SignSession locks the session row, flips is_signed and inserts the
// agreement in one transaction.
func (s *PostgresStore) SignSession(ctx context.Context, a *domain.SignedAgreement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sign tx: %w", err)
	}
	defer pgRollback(ctx, tx)

	var isSigned bool
	err = tx.QueryRow(ctx, `SELECT is_signed FROM signing_sessions WHERE id = $1 FOR UPDATE`, a.SessionID).Scan(&isSigned)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if isSigned {
		return domain.ErrAlreadySigned
	}

	tag, err := tx.Exec(ctx, `UPDATE signing_sessions SET is_signed = TRUE WHERE id = $1 AND is_signed = FALSE`, a.SessionID)
	if err != nil {
		return fmt.Errorf("mark session signed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrAlreadySigned
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO signed_agreements (
			id, session_id, customer_name, customer_address, customer_email,
			customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SessionID, a.CustomerName, a.CustomerAddress, a.CustomerEmail,
		a.CustomerPhone, a.SignatureData, a.AgreementSnapshot, a.SignedAt, nullString(a.PDFURL),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrAlreadySigned
		}
		return fmt.Errorf("insert signed agreement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit signature: %w", err)
	}
	return nil
}

// GetSignedAgreement retrieves the agreement belonging to a session.
func (s *PostgresStore) GetSignedAgreement(ctx context.Context, sessionID string) (*domain.SignedAgreement, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, customer_name, customer_address, customer_email,
		       customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		FROM signed_agreements WHERE session_id = $1`, sessionID)
	a, err := scanPgAgreement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan signed agreement: %w", err)
	}
	return a, nil
}

// SetPDFURL back-fills the external document link.
func (s *PostgresStore) SetPDFURL(ctx context.Context, agreementID, url string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE signed_agreements SET pdf_url = $1 WHERE id = $2`, nullString(url), agreementID)
	if err != nil {
		return fmt.Errorf("update pdf_url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("SetPDFURL affected 0 rows", "agreement_id", agreementID)
	}
	return nil
}

// RecordLinkAttempt counts a failed attempt to produce a document link.
func (s *PostgresStore) RecordLinkAttempt(ctx context.Context, agreementID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE signed_agreements SET link_attempts = link_attempts + 1 WHERE id = $1`, agreementID); err != nil {
		return fmt.Errorf("update link_attempts: %w", err)
	}
	return nil
}

// ListAgreementsMissingLink returns agreements without a document link.
func (s *PostgresStore) ListAgreementsMissingLink(ctx context.Context, signedBefore time.Time, limit int) ([]*domain.SignedAgreement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, customer_name, customer_address, customer_email,
		       customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		FROM signed_agreements
		WHERE (pdf_url IS NULL OR pdf_url = '') AND signed_at < $1
		ORDER BY link_attempts ASC, signed_at ASC LIMIT $2`, signedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query agreements missing link: %w", err)
	}
	defer rows.Close()

	var out []*domain.SignedAgreement
	for rows.Next() {
		a, err := scanPgAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPgAgreement(row pgx.Row) (*domain.SignedAgreement, error) {
	var a domain.SignedAgreement
	var pdfURL *string
	if err := row.Scan(
		&a.ID, &a.SessionID, &a.CustomerName, &a.CustomerAddress, &a.CustomerEmail,
		&a.CustomerPhone, &a.SignatureData, &a.AgreementSnapshot, &a.SignedAt, &pdfURL,
	); err != nil {
		return nil, err
	}
	a.SignedAt = a.SignedAt.UTC()
	a.PDFURL = deref(pdfURL)
	return &a, nil
}

func pgRollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Warn("rollback failed", "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
