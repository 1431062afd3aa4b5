package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hearthlabs/homehub/internal/assistant"
	"github.com/hearthlabs/homehub/internal/models"
)

func (h *Handlers) startAssistant(w http.ResponseWriter, r *http.Request) {
	err := h.Assistant.Start(r.Context())
	if err != nil && !errors.Is(err, assistant.ErrAborted) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Hub.State().Assistant)
}

func (h *Handlers) stopAssistant(w http.ResponseWriter, r *http.Request) {
	h.Assistant.Stop(assistant.NormalReason)
	writeJSON(w, http.StatusOK, h.Hub.State().Assistant)
}

// setAssistantKey links or, with an empty key, unlinks the API key.
func (h *Handlers) setAssistantKey(w http.ResponseWriter, r *http.Request) {
	var req models.KeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	state := h.Hub.SetGeminiKey(req.APIKey)
	writeJSON(w, http.StatusOK, state.Assistant)
}

// assistantAudio attaches the dashboard browser as the assistant's
// microphone and speaker.
func (h *Handlers) assistantAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		slog.Warn("api: audio upgrade failed", "err", err)
		return
	}
	if err := h.Relay.Serve(r.Context(), conn); err != nil {
		slog.Debug("api: audio client gone", "err", err)
	}
}
