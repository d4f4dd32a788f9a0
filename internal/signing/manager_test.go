package signing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu         sync.Mutex
	agreements []*domain.SignedAgreement
}

func (d *recordingDispatcher) Dispatch(a *domain.SignedAgreement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agreements = append(d.agreements, a)
}

func (d *recordingDispatcher) dispatched() []*domain.SignedAgreement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.SignedAgreement(nil), d.agreements...)
}

var fixedNow = time.Date(2025, 3, 2, 18, 30, 0, 123456789, time.UTC)

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore, *recordingDispatcher) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "waivers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	var seq atomic.Int64
	d := &recordingDispatcher{}
	m := NewManager(repo, d,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
	return m, repo, d
}

func janeDoe() domain.SignerDetails {
	return domain.SignerDetails{
		Name:              "Jane Doe",
		Address:           "12 Orchard Lane",
		Email:             "jane@example.com",
		Phone:             "555-0100",
		SignatureData:     "data:image/png;base64,iVBORw0KGgo=",
		AgreementSnapshot: "I release Songbird Terrace from all claims.",
	}
}

func TestSubmitSignature_EndToEnd(t *testing.T) {
	m, repo, d := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveTemplate(ctx, "", "I release Songbird Terrace from all claims.")
	require.NoError(t, err)
	session, err := m.CreateSession(ctx, domain.NewSession{Name: "Jane Doe"})
	require.NoError(t, err)

	view, err := m.SigningView(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "I release Songbird Terrace from all claims.", view.AgreementText)
	assert.Nil(t, view.Signed)

	signedID, err := m.SubmitSignature(ctx, session.ID, janeDoe())
	require.NoError(t, err)
	assert.NotEmpty(t, signedID)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSigned)

	agreement, err := repo.GetSignedAgreement(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, agreement)
	assert.Equal(t, signedID, agreement.ID)
	assert.Equal(t, "Jane Doe", agreement.CustomerName)
	assert.True(t, agreement.SignedAt.Equal(fixedNow.Truncate(time.Millisecond)))

	dispatched := d.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, signedID, dispatched[0].ID)

	view, err = m.SigningView(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Signed)
	assert.Empty(t, view.Signed.SignatureData)
	assert.Equal(t, "Jane Doe", view.Signed.CustomerName)

	_, err = m.SubmitSignature(ctx, session.ID, janeDoe())
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)
	assert.Len(t, d.dispatched(), 1)
}

func TestSubmitSignature_Validation(t *testing.T) {
	m, _, d := newTestManager(t)
	ctx := context.Background()
	session, err := m.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)

	details := janeDoe()
	details.Phone = "   "
	details.SignatureData = ""

	_, err = m.SubmitSignature(ctx, session.ID, details)
	require.ErrorIs(t, err, domain.ErrValidation)
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, []string{"phone", "signatureData"}, vErr.Fields)

	details = janeDoe()
	details.Email = "not-an-email"
	_, err = m.SubmitSignature(ctx, session.ID, details)
	assert.ErrorIs(t, err, domain.ErrValidation)

	view, err := m.SigningView(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, view.Session.IsSigned)
	assert.Empty(t, d.dispatched())
}

func TestSubmitSignature_UnknownSession(t *testing.T) {
	m, _, d := newTestManager(t)

	_, err := m.SubmitSignature(context.Background(), "does-not-exist", janeDoe())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = m.SubmitSignature(context.Background(), "", janeDoe())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Existence is decided before the submitted fields are looked at.
	_, err = m.SubmitSignature(context.Background(), "does-not-exist", domain.SignerDetails{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.NotErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, d.dispatched())
}

func TestSubmitSignature_SignedSessionRejectedBeforeValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	session, err := m.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	_, err = m.SubmitSignature(ctx, session.ID, janeDoe())
	require.NoError(t, err)

	_, err = m.SubmitSignature(ctx, session.ID, domain.SignerDetails{})
	assert.ErrorIs(t, err, domain.ErrAlreadySigned)
}

func TestSubmitSignature_ConcurrentSubmitters(t *testing.T) {
	m, _, d := newTestManager(t)
	ctx := context.Background()
	session, err := m.CreateSession(ctx, domain.NewSession{Name: "Race"})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.SubmitSignature(ctx, session.ID, janeDoe())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, already int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadySigned):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.Len(t, d.dispatched(), 1)
}

func TestDeleteSession(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()
	session, err := m.CreateSession(ctx, domain.NewSession{Description: "Walk-in"})
	require.NoError(t, err)
	_, err = m.SubmitSignature(ctx, session.ID, janeDoe())
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, session.ID))

	agreement, err := repo.GetSignedAgreement(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, agreement)

	assert.ErrorIs(t, m.DeleteSession(ctx, session.ID), domain.ErrSessionNotFound)
	_, err = m.SigningView(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCreateSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, domain.NewSession{Email: "nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	untemplated, err := m.CreateSession(ctx, domain.NewSession{Name: "  Ann  "})
	require.NoError(t, err)
	assert.Equal(t, "Ann", untemplated.DesignatedName)
	assert.Empty(t, untemplated.TemplateID)

	view, err := m.SigningView(ctx, untemplated.ID)
	require.NoError(t, err)
	assert.Equal(t, FallbackAgreementText, view.AgreementText)

	tpl, err := m.SaveTemplate(ctx, "Summer", "Terms")
	require.NoError(t, err)
	templated, err := m.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, templated.TemplateID)
	assert.Equal(t, "Client", templated.DisplayName())

	sessions, err := m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSaveTemplate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.SaveTemplate(ctx, "Blank", "  \n ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, err := m.SaveTemplate(ctx, "", "v1")
	require.NoError(t, err)
	assert.Equal(t, defaultTemplateName, first.Name)
	assert.Equal(t, 1, first.Version)

	second, err := m.SaveTemplate(ctx, "Custom", "v2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := m.LatestTemplate(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "v2", latest.Content)
}
