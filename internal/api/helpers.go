// Package api implements the hub's HTTP API: REST handlers per widget,
// the SSE state stream and the assistant audio WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hearthlabs/homehub/internal/assistant"
	"github.com/hearthlabs/homehub/internal/auth"
	"github.com/hearthlabs/homehub/internal/calendar"
	"github.com/hearthlabs/homehub/internal/google"
	"github.com/hearthlabs/homehub/internal/models"
	"github.com/hearthlabs/homehub/internal/photos"
)

// maxBodyBytes bounds JSON request bodies. Restores have their own limit.
const maxBodyBytes = 1 << 20

// Hub is the state owner as seen by the handlers.
type Hub interface {
	State() models.State
	GetInfo() models.Info
	SetSettings(upd models.SettingsUpdate) (models.State, *models.AppError)
	SetGeminiKey(key string) models.State
	Logout() models.State
}

// EventBus is the interface for subscribing to state change events.
type EventBus interface {
	Subscribe(id string) <-chan models.State
	Unsubscribe(id string)
	SubscriberCount() int
}

// Refresher triggers widget pollers by name.
type Refresher interface {
	Names() []string
	Refresh(name string) error
}

// Calendar is the agenda and meal planner.
type Calendar interface {
	Day(date string) ([]models.AgendaItem, error)
	Week(start string) ([]calendar.DayAgenda, error)
	WeekOptions() []calendar.WeekOption
	AddMeal(ctx context.Context, req models.MealRequest) (string, error)
	DeleteMeal(ctx context.Context, id string) error
}

// Music controls the Spotify and Sonos sources.
type Music interface {
	Command(ctx context.Context, source, action string) error
	SetVolume(ctx context.Context, volume int) (int, error)
	AuthURL(source string) (string, error)
}

// Photos is the slideshow library.
type Photos interface {
	Slides() []models.PhotoSlide
	Next()
	Blob(ctx context.Context, session, id string) (string, []byte, error)
	StartPicker(ctx context.Context) (*models.PickerResponse, error)
	CancelPicker()
	Clear(ctx context.Context) error
	WriteBackup(ctx context.Context, w io.Writer) (int, error)
	Restore(ctx context.Context, r io.Reader) (int, error)
}

// Assistant is the voice assistant bridge.
type Assistant interface {
	Start(ctx context.Context) error
	Stop(reason string)
}

// AudioRelay serves the browser end of the assistant audio.
type AudioRelay interface {
	Serve(ctx context.Context, conn *websocket.Conn) error
}

// Timer is the kitchen timer.
type Timer interface {
	Start(seconds int) (models.TimerState, error)
	Stop() models.TimerState
}

// GoogleAuth runs the Google sign-in flow.
type GoogleAuth interface {
	Configured() bool
	AuthCodeURL() string
	Exchange(ctx context.Context, state, code string) error
}

// Deps are the components behind the routes.
type Deps struct {
	Hub       Hub
	Bus       EventBus
	Auth      *auth.Service
	Pollers   Refresher
	Calendar  Calendar
	Music     Music
	Photos    Photos
	Assistant Assistant
	Relay     AudioRelay
	Timer     Timer
	Google    GoogleAuth
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	upgrader websocket.Upgrader
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON AppError.
func writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		slog.Warn("api: request failed", "status", appErr.Status, "err", err)
	}
	writeJSON(w, appErr.Status, appErr)
}

// toAppError maps component errors onto HTTP statuses.
func toAppError(err error) *models.AppError {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var fe *models.FetchError
	var ae *assistant.Error
	switch {
	case errors.Is(err, photos.ErrNotFound):
		return models.ErrNotFound("photo not found")
	case errors.Is(err, photos.ErrPickerBusy):
		return models.ErrConflict(err.Error())
	case errors.Is(err, photos.ErrInvalidBackup):
		return models.ErrBadRequest(err.Error())
	case errors.Is(err, photos.ErrNotConfigured):
		return &models.AppError{Code: "NOT_CONFIGURED", Message: err.Error(), Status: http.StatusServiceUnavailable}
	case errors.Is(err, assistant.ErrAborted):
		return models.ErrConflict(err.Error())
	case errors.Is(err, google.ErrSignedOut):
		return &models.AppError{Code: "UNAUTHORIZED", Message: err.Error(), Status: http.StatusUnauthorized}
	case errors.As(err, &ae):
		switch ae.Kind {
		case assistant.KindPermission:
			return &models.AppError{Code: "FORBIDDEN", Message: err.Error(), Status: http.StatusForbidden}
		case assistant.KindAuth:
			return &models.AppError{Code: "UNAUTHORIZED", Message: err.Error(), Status: http.StatusUnauthorized}
		}
		return models.ErrBadGateway(err.Error())
	case errors.As(err, &fe):
		if fe.Kind == models.KindAuth {
			return &models.AppError{Code: "UNAUTHORIZED", Message: err.Error(), Status: http.StatusUnauthorized}
		}
		return models.ErrBadGateway(err.Error())
	}
	return models.ErrInternal(err.Error())
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}
