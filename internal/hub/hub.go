// Package hub owns the dashboard state, the single source of truth that
// every widget writes into and every client reads from.
package hub

import (
	"log/slog"
	"sync"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/events"
	"github.com/hearthlabs/homehub/internal/models"
)

// Hub is the central state owner.
// All state mutations go through apply which makes them atomic and
// publishes the resulting snapshot. Settings mutations are additionally
// persisted through the store.
type Hub struct {
	mu       sync.RWMutex
	state    models.State
	settings models.Settings
	store    config.Store
	bus      *events.Bus
}

// New loads the settings from the store and builds the initial state.
func New(store config.Store, bus *events.Bus, info models.Info) (*Hub, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, err
	}

	state := models.DefaultState(*settings)
	state.Info = info
	if settings.GoogleToken != nil {
		state.Session.Scopes = settings.GoogleToken.Scopes
	}

	return &Hub{
		state:    state,
		settings: settings.DeepCopy(),
		store:    store,
		bus:      bus,
	}, nil
}

// State returns a deep copy of the current dashboard state.
func (h *Hub) State() models.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.DeepCopy()
}

// Settings returns a copy of the persisted settings, secrets included.
func (h *Hub) Settings() models.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings.DeepCopy()
}

// apply is the core mutation primitive. It:
//  1. Acquires the write lock
//  2. Makes a deep copy of current state
//  3. Calls fn to modify the copy (fn may return an error to abort)
//  4. If fn succeeds: stores the copy and publishes it
func (h *Hub) apply(fn func(*models.State) error) (models.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.state.DeepCopy()
	if err := fn(&next); err != nil {
		return models.State{}, err
	}

	h.state = next
	h.bus.Publish(h.state.DeepCopy())
	return h.state.DeepCopy(), nil
}

// Update applies an infallible mutation and publishes the result.
func (h *Hub) Update(fn func(*models.State)) models.State {
	state, _ := h.apply(func(s *models.State) error {
		fn(s)
		return nil
	})
	return state
}

// applySettings mutates settings and state together under one lock,
// schedules a debounced save and publishes.
func (h *Hub) applySettings(fn func(*models.Settings, *models.State) error) (models.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	nextSettings := h.settings.DeepCopy()
	nextState := h.state.DeepCopy()
	if err := fn(&nextSettings, &nextState); err != nil {
		return models.State{}, err
	}
	nextState.Settings = nextSettings.Display()
	nextState.Session.SignedIn = nextSettings.GoogleToken != nil
	nextState.Assistant.HasKey = nextSettings.GeminiAPIKey != ""

	h.settings = nextSettings
	h.state = nextState
	if err := h.store.Save(&h.settings); err != nil {
		slog.Error("hub: failed to save settings", "err", err)
	}
	h.bus.Publish(h.state.DeepCopy())
	return h.state.DeepCopy(), nil
}
