package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// migrateSettings fills in default values for fields that may be missing
// in older settings files and drops values that no longer validate.
func migrateSettings(s *models.Settings) {
	def := models.DefaultSettings()

	if s.Timezone == "" {
		s.Timezone = def.Timezone
	} else if _, err := time.LoadLocation(s.Timezone); err != nil {
		slog.Warn("config: unknown timezone, using default", "timezone", s.Timezone, "err", err)
		s.Timezone = def.Timezone
	}

	if !models.ValidView(s.MainView) {
		if s.MainView != "" {
			slog.Warn("config: unknown main view, using default", "view", s.MainView)
		}
		s.MainView = def.MainView
	}

	s.GeminiAPIKey = strings.TrimSpace(s.GeminiAPIKey)

	// A token without an access token cannot be used or refreshed.
	if s.GoogleToken != nil && s.GoogleToken.AccessToken == "" && s.GoogleToken.RefreshToken == "" {
		slog.Warn("config: dropping empty google token")
		s.GoogleToken = nil
	}
}
