package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/domain"
)

type signResponse struct {
	Success  bool   `json:"success"`
	SignedID string `json:"signedId,omitempty"`
}

type stageResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type templateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// RegisterRoutes registers signer, download and admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Post("/sessions/{id}/sign", h.Sign)
		r.Get("/sessions/{id}/pdf", h.DownloadPDF)

		r.Get("/template", h.GetTemplate)
		r.Put("/template", h.PutTemplate)

		r.Get("/stage-waiver", h.StageWaiver)
		r.Get("/document/{filename}", h.Document)
	})
}

// GetSession returns what the signing page needs.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.signing.SigningView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Sign accepts the signer's submission.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var details domain.SignerDetails
	if err := decode(w, r, &details); err != nil {
		fail(w, r, err)
		return
	}

	signedID, err := h.signing.SubmitSignature(r.Context(), chi.URLParam(r, "id"), details)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, signResponse{Success: true, SignedID: signedID})
}

// StageWaiver returns a download URL for a signed session.
func (h *Handler) StageWaiver(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "missing session id")
		return
	}

	res, err := h.stager.Stage(r.Context(), sessionID)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stageResponse{Success: true, URL: h.absolute(res.URL), Filename: res.Filename})
}

// Document redirects to the staged document. The filename segment only
// gives browsers a sensible name.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "missing session id")
		return
	}

	res, err := h.stager.Stage(r.Context(), sessionID)
	if err != nil {
		fail(w, r, err)
		return
	}
	http.Redirect(w, r, res.URL, http.StatusFound)
}

// DownloadPDF renders the signed document and streams it as an attachment
// without publishing it anywhere.
func (h *Handler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if session == nil {
		fail(w, r, domain.ErrSessionNotFound)
		return
	}
	agreement, err := h.repo.GetSignedAgreement(r.Context(), sessionID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if agreement == nil {
		fail(w, r, domain.ErrNotYetSigned)
		return
	}

	data, err := h.renderer.Render(agreement)
	if err != nil {
		fail(w, r, err)
		return
	}

	filename := backup.SafeFilename(agreement.CustomerName, agreement.SessionID)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Failed to write pdf response", "session_id", sessionID, "error", err)
	}
}

// ListSessions returns all sessions for the admin dashboard.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.signing.ListSessions(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.SigningSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

// CreateSession issues a new signing link.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in domain.NewSession
	if err := decode(w, r, &in); err != nil {
		fail(w, r, err)
		return
	}

	session, err := h.signing.CreateSession(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
		"signUrl": h.absolute("/sign/" + session.ID),
	})
}

// DeleteSession removes a session, its signed agreement and any staged copy
// of the document.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agreement, err := h.repo.GetSignedAgreement(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.signing.DeleteSession(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	if agreement != nil {
		if err := h.stager.Discard(r.Context(), agreement); err != nil {
			slog.Warn("Failed to remove staged document", "session_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTemplate returns the current agreement template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.signing.LatestTemplate(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if tpl == nil {
		Error(w, http.StatusNotFound, "no template saved")
		return
	}
	JSON(w, http.StatusOK, tpl)
}

// PutTemplate saves a new template version.
func (h *Handler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	tpl, err := h.signing.SaveTemplate(r.Context(), req.Name, req.Content)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, tpl)
}

// absolute prefixes root-relative links with the public base URL.
func (h *Handler) absolute(link string) string {
	if h.baseURL == "" || !strings.HasPrefix(link, "/") {
		return link
	}
	return h.baseURL + link
}

// RegisterDownloads serves staged documents by exact file name. There is no
// directory listing; anything that is not a regular file is a 404.
func RegisterDownloads(r chi.Router, dir string) {
	r.Get("/downloads/*", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	})
}
