package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthlabs/homehub/internal/calendar"
	"github.com/hearthlabs/homehub/internal/models"
)

func (h *Handlers) getDay(w http.ResponseWriter, r *http.Request) {
	items, err := h.Calendar.Day(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) getWeek(w http.ResponseWriter, r *http.Request) {
	days, err := h.Calendar.Week(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

func (h *Handlers) getWeekOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Calendar.WeekOptions())
}

// getMealOptions lists the dishes the meal planner offers.
func (h *Handlers) getMealOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.MealOptions{
		Prefix: calendar.MealPrefix,
		Dishes: calendar.MealOptions,
	})
}

func (h *Handlers) addMeal(w http.ResponseWriter, r *http.Request) {
	var req models.MealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.Calendar.AddMeal(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handlers) deleteMeal(w http.ResponseWriter, r *http.Request) {
	if err := h.Calendar.DeleteMeal(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
