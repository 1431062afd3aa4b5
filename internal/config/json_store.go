package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

const (
	settingsFileName = "settings.json"
	debounceDelay    = 500 * time.Millisecond
)

// JSONStore keeps the settings in settings.json. Saves are coalesced and
// written after debounceDelay of quiet; every write replaces the file
// atomically and is readable by the owner only, since the settings carry
// the Google token and the assistant API key.
type JSONStore struct {
	path string

	mu      sync.Mutex
	timer   *time.Timer
	pending *models.Settings
	gen     uint64 // bumped on every Save

	writeMu sync.Mutex
}

// NewJSONStore creates a new JSON store in the given config directory.
func NewJSONStore(configDir string) *JSONStore {
	return &JSONStore{
		path: filepath.Join(configDir, settingsFileName),
	}
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

// Load reads the settings from disk. A missing file gives the defaults.
// An unreadable file is moved aside to settings.json.corrupt so the
// defaults written later do not destroy it.
func (s *JSONStore) Load() (*models.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			def := models.DefaultSettings()
			return &def, nil
		}
		return nil, err
	}

	var settings models.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("config: corrupt settings file, using defaults", "path", s.path, "err", err)
		if rerr := os.Rename(s.path, s.path+".corrupt"); rerr != nil {
			slog.Warn("config: could not move corrupt settings aside", "err", rerr)
		}
		def := models.DefaultSettings()
		return &def, nil
	}

	migrateSettings(&settings)
	return &settings, nil
}

// Save schedules a debounced write of the settings to disk.
func (s *JSONStore) Save(settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := settings.DeepCopy()
	s.pending = &cp
	s.gen++

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.Flush(); err != nil {
			slog.Error("config: failed to write settings", "path", s.path, "err", err)
		}
	})
	return nil
}

// Flush writes pending settings now. Without pending settings it is a no-op.
func (s *JSONStore) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	st, gen := s.pending, s.gen
	s.mu.Unlock()
	if st == nil {
		return nil
	}

	if err := s.writeAtomic(st); err != nil {
		return err
	}

	// a Save during the write stays pending
	s.mu.Lock()
	if s.gen == gen {
		s.pending = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *JSONStore) writeAtomic(settings *models.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+settingsFileName+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(0600)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, s.path)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
