// Package signing owns every change to signing state: issuing sessions,
// accepting the single signature a session allows, and deleting sessions.
package signing

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/store"
)

const (
	defaultTemplateName = "Standard Waiver"
	// FallbackAgreementText is shown when no template has been saved yet.
	FallbackAgreementText = "No agreement text found."
)

// Dispatcher receives committed agreements for out-of-band backup. It must
// not block the caller.
type Dispatcher interface {
	Dispatch(agreement *domain.SignedAgreement)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides how record ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// Manager coordinates signing operations on top of a store.Repository.
type Manager struct {
	repo       store.Repository
	dispatcher Dispatcher
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// NewManager creates a Manager. dispatcher may be nil, in which case no
// backup is triggered after a signature.
func NewManager(repo store.Repository, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		dispatcher: dispatcher,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.With("component", "signing"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// timestamp returns the current UTC time at the precision the stores keep.
func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// SubmitSignature records the signer's details against the session exactly
// once and returns the id of the new agreement. Backup is dispatched after
// the commit and never affects the result.
func (m *Manager) SubmitSignature(ctx context.Context, sessionID string, details domain.SignerDetails) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", domain.ErrSessionNotFound
	}
	// Early answer for the common cases; SignSession re-checks both inside
	// its transaction.
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if session == nil {
		return "", domain.ErrSessionNotFound
	}
	if session.IsSigned {
		return "", domain.ErrAlreadySigned
	}
	if err := details.Validate(); err != nil {
		return "", err
	}

	agreement := &domain.SignedAgreement{
		ID:                m.newID(),
		SessionID:         sessionID,
		CustomerName:      strings.TrimSpace(details.Name),
		CustomerAddress:   strings.TrimSpace(details.Address),
		CustomerEmail:     strings.TrimSpace(details.Email),
		CustomerPhone:     strings.TrimSpace(details.Phone),
		SignatureData:     details.SignatureData,
		AgreementSnapshot: details.AgreementSnapshot,
		SignedAt:          m.timestamp(),
	}

	if err := m.repo.SignSession(ctx, agreement); err != nil {
		return "", fmt.Errorf("submit signature for session %s: %w", sessionID, err)
	}

	m.logger.Info("Session signed",
		"session_id", sessionID,
		"agreement_id", agreement.ID,
		"signer", agreement.CustomerName)

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(agreement)
	}
	return agreement.ID, nil
}

// DeleteSession removes a session together with its signed agreement.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	m.logger.Info("Session deleted", "session_id", sessionID)
	return nil
}

// CreateSession issues a new signing link bound to the current template.
func (m *Manager) CreateSession(ctx context.Context, in domain.NewSession) (*domain.SigningSession, error) {
	email := strings.TrimSpace(in.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, &domain.ValidationError{Fields: []string{"email"}, Reason: "invalid address"}
		}
	}

	session := &domain.SigningSession{
		ID:              m.newID(),
		DesignatedName:  strings.TrimSpace(in.Name),
		DesignatedEmail: email,
		Description:     strings.TrimSpace(in.Description),
		CreatedAt:       m.timestamp(),
	}

	tpl, err := m.repo.LatestTemplate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if tpl != nil {
		session.TemplateID = tpl.ID
	}

	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("Session created", "session_id", session.ID, "name", session.DisplayName())
	return session, nil
}

// SaveTemplate stores a new version of the agreement text.
func (m *Manager) SaveTemplate(ctx context.Context, name, content string) (*domain.AgreementTemplate, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &domain.ValidationError{Fields: []string{"content"}, Reason: "required"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultTemplateName
	}

	now := m.timestamp()
	tpl := &domain.AgreementTemplate{
		ID:        m.newID(),
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	m.logger.Info("Template saved", "template_id", tpl.ID, "version", tpl.Version)
	return tpl, nil
}

// LatestTemplate returns the newest template, or nil if none was saved.
func (m *Manager) LatestTemplate(ctx context.Context) (*domain.AgreementTemplate, error) {
	tpl, err := m.repo.LatestTemplate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return tpl, nil
}

// SigningView returns what the signing page shows: the agreement text for
// a pending session, or the signed summary once it has been signed.
func (m *Manager) SigningView(ctx context.Context, sessionID string) (*domain.SigningView, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	view := &domain.SigningView{Session: session}
	if session.IsSigned {
		agreement, err := m.repo.GetSignedAgreement(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("get agreement for %s: %w", sessionID, err)
		}
		if agreement != nil {
			summary := *agreement
			summary.SignatureData = ""
			view.Signed = &summary
		}
		return view, nil
	}

	tpl, err := m.repo.LatestTemplate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	view.AgreementText = FallbackAgreementText
	if tpl != nil && strings.TrimSpace(tpl.Content) != "" {
		view.AgreementText = tpl.Content
	}
	return view, nil
}

// ListSessions returns all sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context) ([]*domain.SigningSession, error) {
	sessions, err := m.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
