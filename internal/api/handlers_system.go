package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthlabs/homehub/internal/auth"
	"github.com/hearthlabs/homehub/internal/models"
)

func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Hub.State())
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Hub.GetInfo())
}

func (h *Handlers) setSettings(w http.ResponseWriter, r *http.Request) {
	var upd models.SettingsUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, err)
		return
	}
	state, appErr := h.Hub.SetSettings(upd)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// refresh triggers an immediate poll of one widget.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	widget := chi.URLParam(r, "widget")
	if err := h.Pollers.Refresh(widget); err != nil {
		writeError(w, models.ErrNotFound(err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"refreshing": widget})
}

// googleLogin redirects to the Google consent page.
func (h *Handlers) googleLogin(w http.ResponseWriter, r *http.Request) {
	if h.Google == nil || !h.Google.Configured() {
		writeError(w, &models.AppError{Code: "NOT_CONFIGURED", Message: "google sign-in is not configured", Status: http.StatusServiceUnavailable})
		return
	}
	http.Redirect(w, r, h.Google.AuthCodeURL(), http.StatusFound)
}

// googleCallback finishes sign-in and returns to the dashboard.
func (h *Handlers) googleCallback(w http.ResponseWriter, r *http.Request) {
	if h.Google == nil || !h.Google.Configured() {
		writeError(w, &models.AppError{Code: "NOT_CONFIGURED", Message: "google sign-in is not configured", Status: http.StatusServiceUnavailable})
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		slog.Warn("api: google sign-in declined", "error", e)
		http.Redirect(w, r, "/?signin="+e, http.StatusFound)
		return
	}
	if err := h.Google.Exchange(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("api: signed in to google", "user", auth.UserFromContext(r.Context()))
	if err := h.Pollers.Refresh("calendar"); err != nil {
		slog.Warn("api: calendar refresh after sign-in failed", "err", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// logout signs out of Google and ends the browser session.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	state := h.Hub.Logout()
	auth.Logout(w)
	slog.Info("api: signed out", "user", auth.UserFromContext(r.Context()))
	writeJSON(w, http.StatusOK, state)
}
