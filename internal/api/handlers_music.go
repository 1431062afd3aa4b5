package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthlabs/homehub/internal/models"
)

func (h *Handlers) musicCommand(w http.ResponseWriter, r *http.Request) {
	source, action := chi.URLParam(r, "source"), chi.URLParam(r, "action")
	if err := h.Music.Command(r.Context(), source, action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Hub.State().Music)
}

func (h *Handlers) setVolume(w http.ResponseWriter, r *http.Request) {
	var req models.VolumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	volume, err := h.Music.SetVolume(r.Context(), req.Volume)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.VolumeRequest{Volume: volume})
}

// musicAuth redirects to the bridge page that signs the source in.
func (h *Handlers) musicAuth(w http.ResponseWriter, r *http.Request) {
	u, err := h.Music.AuthURL(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}
