package weather

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

const cacheFileName = "weather.json"

// Hub is the part of the state owner the weather widget writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
}

// Service is the weather widget.
type Service struct {
	client    *Client
	hub       Hub
	cachePath string
	now       func() time.Time
}

// NewService creates the widget. The last snapshot is cached in cacheDir.
func NewService(client *Client, hub Hub, cacheDir string) *Service {
	return &Service{
		client:    client,
		hub:       hub,
		cachePath: filepath.Join(cacheDir, cacheFileName),
		now:       time.Now,
	}
}

// LoadCache publishes the cached snapshot, if any, so the dashboard has
// weather before the first fetch completes.
func (s *Service) LoadCache() {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("weather: failed to read cache", "path", s.cachePath, "err", err)
		}
		return
	}
	var snap models.WeatherSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("weather: corrupt cache ignored", "path", s.cachePath, "err", err)
		return
	}
	s.hub.Update(func(st *models.State) {
		st.Weather.Current = &snap
		st.Weather.UpdatedAt = snap.FetchedAt
	})
	slog.Debug("weather: cache loaded", "fetched_at", snap.FetchedAt)
}

// Fetch refreshes the forecast.
func (s *Service) Fetch(ctx context.Context) error {
	now := s.now()
	snap, err := s.client.Fetch(ctx, now)
	if err != nil {
		s.hub.Update(func(st *models.State) {
			st.Weather.Fail(err)
		})
		return err
	}
	s.hub.Update(func(st *models.State) {
		st.Weather.Current = snap
		st.Weather.Succeed(now)
	})
	if err := s.writeCache(snap); err != nil {
		slog.Warn("weather: failed to write cache", "path", s.cachePath, "err", err)
	}
	return nil
}

func (s *Service) writeCache(snap *models.WeatherSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0755); err != nil {
		return err
	}
	tmp := s.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cachePath)
}
