package hub

import (
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// SetSettings applies a partial update of the display settings.
func (h *Hub) SetSettings(upd models.SettingsUpdate) (models.State, *models.AppError) {
	state, err := h.applySettings(func(set *models.Settings, _ *models.State) error {
		if upd.Timezone != nil {
			tz := strings.TrimSpace(*upd.Timezone)
			if _, err := time.LoadLocation(tz); err != nil || tz == "" {
				return models.ErrBadRequest("unknown timezone " + tz)
			}
			set.Timezone = tz
		}
		if upd.MainView != nil {
			if !models.ValidView(*upd.MainView) {
				return models.ErrBadRequest("main_view must be agenda or photos")
			}
			set.MainView = *upd.MainView
		}
		return nil
	})
	if err != nil {
		return models.State{}, asAppError(err)
	}
	return state, nil
}

// Location returns the configured display timezone.
func (h *Hub) Location() *time.Location {
	h.mu.RLock()
	tz := h.settings.Timezone
	h.mu.RUnlock()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// SetToken stores a Google token. A nil token signs out.
func (h *Hub) SetToken(tok *models.OAuthToken) {
	_, _ = h.applySettings(func(set *models.Settings, s *models.State) error {
		if tok == nil {
			set.GoogleToken = nil
			s.Session = models.Session{}
			return nil
		}
		cp := *tok
		set.GoogleToken = &cp
		s.Session.Scopes = tok.Scopes
		return nil
	})
}

// Token returns the stored Google token, or nil when signed out.
func (h *Hub) Token() *models.OAuthToken {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.settings.GoogleToken == nil {
		return nil
	}
	cp := *h.settings.GoogleToken
	return &cp
}

// Logout clears the Google token and every section derived from it.
func (h *Hub) Logout() models.State {
	state, _ := h.applySettings(func(set *models.Settings, s *models.State) error {
		set.GoogleToken = nil
		s.Session = models.Session{}
		s.Calendar = models.CalendarState{Items: []models.AgendaItem{}}
		return nil
	})
	return state
}

// SetProfile records the signed-in user's name and picture.
func (h *Hub) SetProfile(name, picture string) {
	h.Update(func(s *models.State) {
		s.Session.Name = name
		s.Session.Picture = picture
	})
}

// SetGeminiKey stores the voice assistant API key. An empty key unlinks it.
func (h *Hub) SetGeminiKey(key string) models.State {
	state, _ := h.applySettings(func(set *models.Settings, s *models.State) error {
		set.GeminiAPIKey = strings.TrimSpace(key)
		if set.GeminiAPIKey != "" {
			s.Assistant.NeedsKey = false
			s.Assistant.Error = ""
		}
		return nil
	})
	return state
}

// GeminiKey returns the stored voice assistant API key.
func (h *Hub) GeminiKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings.GeminiAPIKey
}

// Flush forces pending settings to disk.
func (h *Hub) Flush() error {
	return h.store.Flush()
}

func asAppError(err error) *models.AppError {
	if appErr, ok := err.(*models.AppError); ok {
		return appErr
	}
	return models.ErrInternal(err.Error())
}
