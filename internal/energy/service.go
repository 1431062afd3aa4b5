package energy

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// Bridge decodes JSON documents served by Node-RED.
type Bridge interface {
	GetJSON(ctx context.Context, path string, out interface{}) error
}

// Hub is the part of the state owner the energy widget writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
}

// Service is the energy widget.
type Service struct {
	bridge Bridge
	hub    Hub
	now    func() time.Time
}

// NewService creates the widget.
func NewService(bridge Bridge, hub Hub) *Service {
	return &Service{bridge: bridge, hub: hub, now: time.Now}
}

// Fetch reads one telemetry sample.
func (s *Service) Fetch(ctx context.Context) error {
	snap, err := s.fetch(ctx)
	if err != nil {
		s.hub.Update(func(st *models.State) {
			st.Energy.Fail(err)
		})
		return err
	}
	s.hub.Update(func(st *models.State) {
		st.Energy.Current = snap
		st.Energy.Succeed(snap.Timestamp)
	})
	return nil
}

func (s *Service) fetch(ctx context.Context) (*models.EnergySnapshot, error) {
	var t tree
	if err := s.bridge.GetJSON(ctx, Path, &t); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	if len(t) == 0 {
		return nil, fmt.Errorf("energy: %w", models.ErrEmpty)
	}
	return t.snapshot(s.now()), nil
}
