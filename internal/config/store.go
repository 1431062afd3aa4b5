// Package config handles the hub's static TOML configuration and the
// persisted, mutable settings.
package config

import "github.com/hearthlabs/homehub/internal/models"

// Store is the interface for persisting settings.
type Store interface {
	// Load loads the current settings. Returns DefaultSettings if no file exists.
	Load() (*models.Settings, error)

	// Save persists the settings. Implementations may debounce rapid saves.
	Save(settings *models.Settings) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending settings.
	Flush() error
}
