package models

import (
	"time"
)

// DefaultTimezone is used when settings carry no timezone.
const DefaultTimezone = "Europe/Brussels"

// OAuthToken is the persisted Google token.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       string    `json:"scopes,omitempty"`
}

// Settings is the mutable configuration persisted across restarts.
type Settings struct {
	GoogleToken  *OAuthToken `json:"google_token,omitempty"`
	GeminiAPIKey string      `json:"gemini_api_key,omitempty"`
	Timezone     string      `json:"timezone"`
	MainView     string      `json:"main_view"`
}

// DeepCopy returns a copy that shares no pointers with s.
func (s Settings) DeepCopy() Settings {
	next := s
	if s.GoogleToken != nil {
		tok := *s.GoogleToken
		next.GoogleToken = &tok
	}
	return next
}

// Display returns the client-visible part of the settings.
func (s Settings) Display() DisplaySettings {
	return DisplaySettings{Timezone: s.Timezone, MainView: s.MainView}
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Timezone: DefaultTimezone,
		MainView: ViewAgenda,
	}
}

// DefaultState returns the empty dashboard state for the given settings.
func DefaultState(settings Settings) State {
	return State{
		Settings: settings.Display(),
		Session: Session{
			SignedIn: settings.GoogleToken != nil,
		},
		Calendar:  CalendarState{Items: []AgendaItem{}},
		Music:     MusicState{Active: MusicSpotify},
		Photos:    PhotosState{Log: []LogEntry{}},
		Assistant: AssistantState{Log: []LogEntry{}, HasKey: settings.GeminiAPIKey != ""},
		Timer:     TimerState{Status: TimerIdle},
	}
}

// ValidView reports whether v names a main panel view.
func ValidView(v string) bool {
	return v == ViewAgenda || v == ViewPhotos
}
