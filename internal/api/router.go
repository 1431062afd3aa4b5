package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// NewRouter creates and returns the main HTTP router.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{
		Deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 64 << 10,
			// the dashboard is served from this host; other origins are refused
		},
	}

	// Auth routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/auth/login", deps.Auth.LoginPage)
		r.Post("/auth/login", deps.Auth.LoginPost)
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)

		// Google sign-in
		r.Get("/auth/google", h.googleLogin)
		r.Get("/auth/google/callback", h.googleCallback)
		r.Post("/api/logout", h.logout)

		// State
		r.Get("/api", h.getState)
		r.Get("/api/", h.getState)
		r.Get("/api/info", h.getInfo)
		r.Get("/api/subscribe", h.sseEvents)
		r.Patch("/api/settings", h.setSettings)
		r.Post("/api/{widget}/refresh", h.refresh)

		// Calendar
		r.Get("/api/calendar/day", h.getDay)
		r.Get("/api/calendar/week", h.getWeek)
		r.Get("/api/calendar/weeks", h.getWeekOptions)
		r.Get("/api/calendar/meals/options", h.getMealOptions)
		r.Post("/api/calendar/meals", h.addMeal)
		r.Delete("/api/calendar/meals/{id}", h.deleteMeal)

		// Music
		r.Post("/api/music/{source}/{action}", h.musicCommand)
		r.Put("/api/music/sonos/volume", h.setVolume)
		r.Get("/api/music/{source}/auth", h.musicAuth)

		// Photos
		r.Get("/api/photos/slides", h.getSlides)
		r.Post("/api/photos/next", h.nextSlide)
		r.Get("/api/photos/blob/{session}/{id}", h.getBlob)
		r.Post("/api/photos/picker", h.startPicker)
		r.Delete("/api/photos/picker", h.cancelPicker)
		r.Delete("/api/photos", h.clearPhotos)
		r.Get("/api/photos/backup", h.downloadBackup)
		r.Post("/api/photos/restore", h.restoreBackup)

		// Assistant
		r.Post("/api/assistant/start", h.startAssistant)
		r.Post("/api/assistant/stop", h.stopAssistant)
		r.Put("/api/assistant/key", h.setAssistantKey)
		r.Get("/api/assistant/audio", h.assistantAudio)

		// Timer
		r.Get("/api/timer/presets", h.getTimerPresets)
		r.Post("/api/timer", h.startTimer)
		r.Delete("/api/timer", h.stopTimer)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
