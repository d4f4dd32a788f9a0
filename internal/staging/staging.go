// Package staging produces a downloadable URL for a signed waiver, reusing
// the cached document link when one exists.
package staging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/cloud"
	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/render"
	"github.com/songbird-terrace/waivers/internal/store"
	"golang.org/x/sync/singleflight"
)

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

// Publisher makes a rendered document reachable by URL.
type Publisher interface {
	Publish(ctx context.Context, filename string, data []byte) (*cloud.Link, error)
}

// Checker is implemented by publishers that can tell whether a link they
// issued still resolves.
type Checker interface {
	Available(ctx context.Context, link string) bool
}

// Remover is implemented by publishers that keep a copy they can delete.
type Remover interface {
	Remove(ctx context.Context, filename string) error
}

// fillTimeout bounds one render and publish.
const fillTimeout = 2 * time.Minute

// Renderer produces the PDF for an agreement.
type Renderer interface {
	RenderDocument(a *domain.SignedAgreement) (*render.Document, error)
}

// Result is a staged document.
type Result struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Cached   bool   `json:"-"`
}

// Service stages documents on demand.
type Service struct {
	repo      store.Repository
	renderer  Renderer
	publisher Publisher
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a staging service.
func NewService(repo store.Repository, renderer Renderer, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		renderer:  renderer,
		publisher: publisher,
		now:       time.Now,
		logger:    slog.With("component", "staging"),
	}
}

// Stage returns a URL for the session's signed document. A stored link is
// returned unchanged; otherwise the document is rendered and published.
// Concurrent calls for the same session share one render.
func (s *Service) Stage(ctx context.Context, sessionID string) (*Result, error) {
	agreement, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	filename := backup.SafeFilename(agreement.CustomerName, agreement.SessionID)
	if agreement.HasDocumentLink() {
		if s.available(ctx, agreement.PDFURL) {
			return &Result{URL: agreement.PDFURL, Filename: filename, Cached: true}, nil
		}
		s.logger.Info("Stored link no longer resolves, staging again", "session_id", sessionID)
	}

	v, err, _ := s.group.Do(sessionID, func() (interface{}, error) {
		// Joined callers share this result, so it must outlive the
		// caller that started it.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		return s.fill(fillCtx, agreement, filename)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

// Discard removes the published copy of an agreement's document when the
// publisher keeps one it can delete. Used after a session is deleted.
func (s *Service) Discard(ctx context.Context, a *domain.SignedAgreement) error {
	r, ok := s.publisher.(Remover)
	if !ok || a == nil {
		return nil
	}
	return r.Remove(ctx, backup.SafeFilename(a.CustomerName, a.SessionID))
}

func (s *Service) available(ctx context.Context, link string) bool {
	c, ok := s.publisher.(Checker)
	if !ok {
		return true
	}
	return c.Available(ctx, link)
}

func (s *Service) lookup(ctx context.Context, sessionID string) (*domain.SignedAgreement, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	agreement, err := s.repo.GetSignedAgreement(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get agreement for %s: %w", sessionID, err)
	}
	if agreement == nil {
		return nil, domain.ErrNotYetSigned
	}
	return agreement, nil
}

func (s *Service) fill(ctx context.Context, a *domain.SignedAgreement, filename string) (*Result, error) {
	logger := s.logger.With("session_id", a.SessionID, "agreement_id", a.ID)

	doc, err := s.renderer.RenderDocument(a)
	if err != nil {
		return nil, fmt.Errorf("%w: render: %w", domain.ErrStagingFailed, err)
	}
	if doc.SignatureError != nil {
		logger.Warn("Signature image could not be embedded", "error", doc.SignatureError)
	}
	if err := Validate(doc.Data); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStagingFailed, err)
	}

	link, err := s.publisher.Publish(ctx, filename, doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: publish: %w", domain.ErrStagingFailed, err)
	}

	u := link.URL
	if !link.Signed {
		u = withCacheBuster(u, s.now())
	}

	if link.Durable {
		if err := store.SetPDFURLWithRetry(ctx, s.repo, a.ID, u); err != nil {
			logger.Warn("Failed to cache staged link", "error", err)
		}
	}

	logger.Info("Staged document", "filename", filename, "pages", doc.Pages, "durable", link.Durable)
	return &Result{URL: u, Filename: filename}, nil
}

// Validate checks that data parses as a PDF.
func Validate(data []byte) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}
	return nil
}

// withCacheBuster adds t=<unix nanos> so browsers do not reuse a stale copy
// of a file published under the same name.
func withCacheBuster(raw string, now time.Time) string {
	stamp := strconv.FormatInt(now.UnixNano(), 10)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("t", stamp)
	u.RawQuery = q.Encode()
	return u.String()
}
