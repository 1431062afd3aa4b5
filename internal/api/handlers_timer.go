package api

import (
	"net/http"

	"github.com/hearthlabs/homehub/internal/models"
	"github.com/hearthlabs/homehub/internal/timer"
)

func (h *Handlers) startTimer(w http.ResponseWriter, r *http.Request) {
	var req models.TimerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.Timer.Start(req.Seconds)
	if err != nil {
		writeError(w, models.ErrBadRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) stopTimer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Timer.Stop())
}

func (h *Handlers) getTimerPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.TimerPresets{
		Minutes:    timer.Presets,
		MaxSeconds: timer.MaxSeconds,
	})
}
