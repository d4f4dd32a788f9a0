package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "waivers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), &domain.SigningSession{
		ID:              id,
		DesignatedName:  "Jane Doe",
		DesignatedEmail: "jane@example.com",
		CreatedAt:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}))
}

func agreementFor(sessionID, id string) *domain.SignedAgreement {
	return &domain.SignedAgreement{
		ID:                id,
		SessionID:         sessionID,
		CustomerName:      "Jane Doe",
		CustomerAddress:   "1 Main St",
		CustomerEmail:     "jane@example.com",
		CustomerPhone:     "555-0100",
		SignatureData:     "data:image/png;base64,AAAA",
		AgreementSnapshot: "I release all claims.",
		SignedAt:          time.Date(2025, 3, 2, 18, 30, 0, 0, time.UTC),
	}
}

func countAgreements(t *testing.T, s *SQLiteStore, sessionID string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM signed_agreements WHERE session_id = ?`, sessionID).Scan(&n))
	return n
}

func TestSignSession_Success(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	require.NoError(t, s.SignSession(ctx, agreementFor("sess-1", "agr-1")))

	session, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.IsSigned)

	got, err := s.GetSignedAgreement(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "agr-1", got.ID)
	assert.Equal(t, "I release all claims.", got.AgreementSnapshot)
	assert.True(t, got.SignedAt.Equal(time.Date(2025, 3, 2, 18, 30, 0, 0, time.UTC)))
	assert.Empty(t, got.PDFURL)
}

func TestSignSession_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")

	err := s.SignSession(ctx, agreementFor("missing", "agr-x"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, s.SignSession(ctx, agreementFor("sess-1", "agr-1")))
	err = s.SignSession(ctx, agreementFor("sess-1", "agr-2"))
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)
	assert.Equal(t, 1, countAgreements(t, s, "sess-1"))
}

func TestSignSession_ConcurrentSubmissionsHaveOneWinner(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "sess-race")

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SignSession(context.Background(), agreementFor("sess-race", fmt.Sprintf("agr-%d", i)))
		}(i)
	}
	wg.Wait()

	var wins, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadySigned):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, lost)
	assert.Equal(t, 1, countAgreements(t, s, "sess-race"))
}

func TestDeleteSession_CascadesAgreement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")
	require.NoError(t, s.SignSession(ctx, agreementFor("sess-1", "agr-1")))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	session, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, session)
	agreement, err := s.GetSignedAgreement(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, agreement)
	assert.Equal(t, 0, countAgreements(t, s, "sess-1"))

	assert.ErrorIs(t, s.DeleteSession(ctx, "sess-1"), domain.ErrSessionNotFound)
}

func TestForeignKeyRejectsOrphanAgreement(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(`
		INSERT INTO signed_agreements (id, session_id, customer_name, customer_address, customer_email,
			customer_phone, signature_data, agreement_snapshot, signed_at)
		VALUES ('a', 'nope', 'n', 'a', 'e', 'p', 's', 't', 0)`)
	assert.Error(t, err)
}

func TestTemplates_LatestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestTemplate(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &domain.AgreementTemplate{ID: "t1", Name: "Standard Waiver", Content: "v1 text", CreatedAt: base}
	second := &domain.AgreementTemplate{ID: "t2", Name: "Standard Waiver", Content: "v2 text", CreatedAt: base.Add(time.Hour)}
	require.NoError(t, s.SaveTemplate(ctx, first))
	require.NoError(t, s.SaveTemplate(ctx, second))
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	latest, err = s.LatestTemplate(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "v2 text", latest.Content)
}

func TestSetPDFURLAndMissingLinkListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-1")
	seedSession(t, s, "sess-2")
	require.NoError(t, s.SignSession(ctx, agreementFor("sess-1", "agr-1")))
	require.NoError(t, s.SignSession(ctx, agreementFor("sess-2", "agr-2")))

	cutoff := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	missing, err := s.ListAgreementsMissingLink(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	require.NoError(t, SetPDFURLWithRetry(ctx, s, "agr-1", "https://drive.example/view/1"))

	missing, err = s.ListAgreementsMissingLink(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "agr-2", missing[0].ID)

	got, err := s.GetSignedAgreement(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example/view/1", got.PDFURL)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, session := range sessions {
		require.NotNil(t, session.Agreement)
		assert.Empty(t, session.Agreement.SignatureData)
	}
}

func TestIsConflictError(t *testing.T) {
	assert.False(t, IsConflictError(nil))
	assert.True(t, IsConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsConflictError(errors.New("no such table")))
	assert.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: signed_agreements.session_id (2067)")))
}

func TestIsPostgresURL(t *testing.T) {
	assert.True(t, IsPostgresURL("postgres://u:p@localhost/db"))
	assert.True(t, IsPostgresURL("postgresql://localhost/db"))
	assert.False(t, IsPostgresURL("./data/waivers.db"))
}

func TestRecordLinkAttemptMovesAgreementBehindUntried(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "sess-old")
	seedSession(t, s, "sess-new")
	older := agreementFor("sess-old", "agr-old")
	newer := agreementFor("sess-new", "agr-new")
	newer.SignedAt = older.SignedAt.Add(time.Hour)
	require.NoError(t, s.SignSession(ctx, older))
	require.NoError(t, s.SignSession(ctx, newer))

	cutoff := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	missing, err := s.ListAgreementsMissingLink(ctx, cutoff, 1)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "agr-old", missing[0].ID)

	require.NoError(t, s.RecordLinkAttempt(ctx, "agr-old"))

	missing, err = s.ListAgreementsMissingLink(ctx, cutoff, 1)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "agr-new", missing[0].ID)
}

func TestInitSchemaAddsLinkAttemptsToExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE signed_agreements (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL,
			customer_address TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_phone TEXT NOT NULL,
			signature_data TEXT NOT NULL,
			agreement_snapshot TEXT NOT NULL,
			signed_at INTEGER NOT NULL,
			pdf_url TEXT
		)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('signed_agreements') WHERE name = 'link_attempts'`).Scan(&n))
	assert.Equal(t, 1, n)
}
