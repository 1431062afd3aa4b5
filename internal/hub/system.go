package hub

import "github.com/hearthlabs/homehub/internal/models"

// GetInfo returns system information.
func (h *Hub) GetInfo() models.Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Info
}

// SetOnline records the result of the connectivity check.
func (h *Hub) SetOnline(online bool) {
	h.Update(func(s *models.State) {
		s.Info.Offline = !online
	})
}
