// Package api provides HTTP handlers for the waiver API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/songbird-terrace/waivers/internal/domain"
	"github.com/songbird-terrace/waivers/internal/staging"
	"github.com/songbird-terrace/waivers/internal/store"
)

// maxBodyBytes caps request bodies; signature images are the largest field.
const maxBodyBytes = 5 << 20

// SigningService is the subset of signing.Manager the handlers use.
type SigningService interface {
	SubmitSignature(ctx context.Context, sessionID string, details domain.SignerDetails) (string, error)
	SigningView(ctx context.Context, sessionID string) (*domain.SigningView, error)
	CreateSession(ctx context.Context, in domain.NewSession) (*domain.SigningSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]*domain.SigningSession, error)
	SaveTemplate(ctx context.Context, name, content string) (*domain.AgreementTemplate, error)
	LatestTemplate(ctx context.Context) (*domain.AgreementTemplate, error)
}

// Stager produces download URLs for signed documents.
type Stager interface {
	Stage(ctx context.Context, sessionID string) (*staging.Result, error)
	Discard(ctx context.Context, a *domain.SignedAgreement) error
}

// Renderer renders a signed agreement to PDF bytes.
type Renderer interface {
	Render(a *domain.SignedAgreement) ([]byte, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	signing  SigningService
	stager   Stager
	renderer Renderer
	baseURL  string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, signing SigningService, stager Stager, renderer Renderer, baseURL string) *Handler {
	return &Handler{
		repo:     repo,
		signing:  signing,
		stager:   stager,
		renderer: renderer,
		baseURL:  baseURL,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotYetSigned):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySigned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the mapped status. Internal errors are logged and hidden.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal server error")
		return
	}
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		Error(w, status, vErr.Error())
		return
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, status, domain.ErrSessionNotFound.Error())
	case errors.Is(err, domain.ErrNotYetSigned):
		Error(w, status, domain.ErrNotYetSigned.Error())
	case errors.Is(err, domain.ErrAlreadySigned):
		Error(w, status, domain.ErrAlreadySigned.Error())
	default:
		Error(w, status, err.Error())
	}
}

// decode reads a JSON body into v, rejecting oversized or malformed input.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ValidationError{Fields: []string{"body"}, Reason: "invalid JSON"}
	}
	return nil
}
