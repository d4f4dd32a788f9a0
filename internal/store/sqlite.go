package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Foreign keys are per connection in SQLite, so they go in the DSN.
	// IMMEDIATE transactions take the write lock at BEGIN, which keeps the
	// busy handler in charge instead of failing on lock upgrade.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Databases created before link_attempts existed.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('signed_agreements') WHERE name = 'link_attempts'`).Scan(&n); err != nil {
		return fmt.Errorf("inspect signed_agreements: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE signed_agreements ADD COLUMN link_attempts INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add link_attempts: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveTemplate inserts a new template version.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, tpl *domain.AgreementTemplate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer rollback(tx)

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM agreement_templates`).Scan(&version); err != nil {
		return fmt.Errorf("next template version: %w", err)
	}

	updatedAt := tpl.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = tpl.CreatedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agreement_templates (id, name, content, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.Content, version, tpl.CreatedAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template: %w", err)
	}

	tpl.Version = version
	tpl.UpdatedAt = updatedAt
	return nil
}

// LatestTemplate returns the most recently created template.
func (s *SQLiteStore) LatestTemplate(ctx context.Context) (*domain.AgreementTemplate, error) {
	query := `
		SELECT id, name, content, version, created_at, updated_at
		FROM agreement_templates ORDER BY version DESC LIMIT 1`

	var tpl domain.AgreementTemplate
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&tpl.ID, &tpl.Name, &tpl.Content, &tpl.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan template row: %w", err)
	}

	tpl.CreatedAt = fromMillis(createdAt)
	tpl.UpdatedAt = fromMillis(updatedAt)
	return &tpl, nil
}

// CreateSession inserts a pending signing session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.SigningSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_sessions (id, designated_name, designated_email, description, is_signed, template_id, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		session.ID, nullString(session.DesignatedName), nullString(session.DesignatedEmail),
		nullString(session.Description), nullString(session.TemplateID), session.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.SigningSession, error) {
	query := `
		SELECT id, designated_name, designated_email, description, is_signed, template_id, created_at
		FROM signing_sessions WHERE id = ?`

	var session domain.SigningSession
	var name, email, description, templateID sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &name, &email, &description, &session.IsSigned, &templateID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.DesignatedName = name.String
	session.DesignatedEmail = email.String
	session.Description = description.String
	session.TemplateID = templateID.String
	session.CreatedAt = fromMillis(createdAt)
	return &session, nil
}

// ListSessions returns all sessions newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.SigningSession, error) {
	query := `
		SELECT s.id, s.designated_name, s.designated_email, s.description, s.is_signed, s.template_id, s.created_at,
		       a.id, a.customer_name, a.customer_email, a.signed_at, a.pdf_url
		FROM signing_sessions s
		LEFT JOIN signed_agreements a ON a.session_id = s.id
		ORDER BY s.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.SigningSession
	for rows.Next() {
		var session domain.SigningSession
		var name, email, description, templateID sql.NullString
		var agreementID, customerName, customerEmail, pdfURL sql.NullString
		var createdAt int64
		var signedAt sql.NullInt64

		if err := rows.Scan(
			&session.ID, &name, &email, &description, &session.IsSigned, &templateID, &createdAt,
			&agreementID, &customerName, &customerEmail, &signedAt, &pdfURL,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		session.DesignatedName = name.String
		session.DesignatedEmail = email.String
		session.Description = description.String
		session.TemplateID = templateID.String
		session.CreatedAt = fromMillis(createdAt)
		if agreementID.Valid {
			session.Agreement = &domain.SignedAgreement{
				ID:            agreementID.String,
				SessionID:     session.ID,
				CustomerName:  customerName.String,
				CustomerEmail: customerEmail.String,
				SignedAt:      fromMillis(signedAt.Int64),
				PDFURL:        pdfURL.String,
			}
		}
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the agreement (if any) and then the session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM signed_agreements WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete signed agreement: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM signing_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSessionNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// SignSession flips is_signed and inserts the agreement atomically.
func (s *SQLiteStore) SignSession(ctx context.Context, a *domain.SignedAgreement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sign tx: %w", err)
	}
	defer rollback(tx)

	var isSigned bool
	err = tx.QueryRowContext(ctx, `SELECT is_signed FROM signing_sessions WHERE id = ?`, a.SessionID).Scan(&isSigned)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if isSigned {
		return domain.ErrAlreadySigned
	}

	result, err := tx.ExecContext(ctx, `UPDATE signing_sessions SET is_signed = 1 WHERE id = ? AND is_signed = 0`, a.SessionID)
	if err != nil {
		return fmt.Errorf("mark session signed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows != 1 {
		return domain.ErrAlreadySigned
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signed_agreements (
			id, session_id, customer_name, customer_address, customer_email,
			customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.CustomerName, a.CustomerAddress, a.CustomerEmail,
		a.CustomerPhone, a.SignatureData, a.AgreementSnapshot, a.SignedAt.UnixMilli(), nullString(a.PDFURL),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.ErrAlreadySigned
		}
		return fmt.Errorf("insert signed agreement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signature: %w", err)
	}
	return nil
}

// GetSignedAgreement retrieves the agreement belonging to a session.
func (s *SQLiteStore) GetSignedAgreement(ctx context.Context, sessionID string) (*domain.SignedAgreement, error) {
	query := `
		SELECT id, session_id, customer_name, customer_address, customer_email,
		       customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		FROM signed_agreements WHERE session_id = ?`

	a, err := scanAgreement(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan signed agreement: %w", err)
	}
	return a, nil
}

// SetPDFURL back-fills the external document link.
func (s *SQLiteStore) SetPDFURL(ctx context.Context, agreementID, url string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE signed_agreements SET pdf_url = ? WHERE id = ?`, nullString(url), agreementID)
	if err != nil {
		return fmt.Errorf("update pdf_url: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetPDFURL affected 0 rows", "agreement_id", agreementID)
	}
	return nil
}

// RecordLinkAttempt counts a failed attempt to produce a document link.
func (s *SQLiteStore) RecordLinkAttempt(ctx context.Context, agreementID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE signed_agreements SET link_attempts = link_attempts + 1 WHERE id = ?`, agreementID); err != nil {
		return fmt.Errorf("update link_attempts: %w", err)
	}
	return nil
}

// ListAgreementsMissingLink returns agreements without a document link.
func (s *SQLiteStore) ListAgreementsMissingLink(ctx context.Context, signedBefore time.Time, limit int) ([]*domain.SignedAgreement, error) {
	query := `
		SELECT id, session_id, customer_name, customer_address, customer_email,
		       customer_phone, signature_data, agreement_snapshot, signed_at, pdf_url
		FROM signed_agreements
		WHERE (pdf_url IS NULL OR pdf_url = '') AND signed_at < ?
		ORDER BY link_attempts ASC, signed_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, signedBefore.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query agreements missing link: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agreement rows", "error", closeErr)
		}
	}()

	var out []*domain.SignedAgreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*domain.SignedAgreement, error) {
	var a domain.SignedAgreement
	var signedAt int64
	var pdfURL sql.NullString
	if err := row.Scan(
		&a.ID, &a.SessionID, &a.CustomerName, &a.CustomerAddress, &a.CustomerEmail,
		&a.CustomerPhone, &a.SignatureData, &a.AgreementSnapshot, &signedAt, &pdfURL,
	); err != nil {
		return nil, err
	}
	a.SignedAt = fromMillis(signedAt)
	a.PDFURL = pdfURL.String
	return &a, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("rollback failed", "error", err)
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
