// Package music tracks what Spotify and Sonos are playing through the
// Node-RED bridge, picks the source to show and forwards playback controls.
package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// Playback actions.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionToggle   = "toggle"
	ActionNext     = "next"
	ActionPrevious = "previous"
)

const (
	commandRefreshDelay = 500 * time.Millisecond
	volumeRefreshDelay  = 300 * time.Millisecond
)

// Bridge is the Node-RED client.
type Bridge interface {
	Get(ctx context.Context, path string) (int, []byte, error)
	Post(ctx context.Context, path string, in interface{}) error
	URL(path string) string
}

// Hub is the part of the state owner the music widget writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
	State() models.State
}

// nowPlaying is the bridge's now-playing document for either source.
// Spotify reports progress and device, Sonos position, volume and player.
type nowPlaying struct {
	IsPlaying  bool    `json:"isPlaying"`
	Track      *string `json:"track"`
	Artist     *string `json:"artist"`
	Album      *string `json:"album"`
	AlbumArt   *string `json:"albumArt"`
	Progress   int64   `json:"progress"`
	Position   int64   `json:"position"`
	Duration   int64   `json:"duration"`
	Volume     int     `json:"volume"`
	Device     *string `json:"device"`
	PlayerName *string `json:"playerName"`
	Error      bool    `json:"error"`
	Message    string  `json:"message"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Service is the music widget.
type Service struct {
	bridge Bridge
	hub    Hub
	now    func() time.Time

	mu      sync.Mutex
	refresh func()
}

// NewService creates the widget.
func NewService(bridge Bridge, hub Hub) *Service {
	return &Service{bridge: bridge, hub: hub, now: time.Now}
}

// SetRefresher installs the function used to re-poll shortly after a command.
func (s *Service) SetRefresher(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = fn
}

func (s *Service) scheduleRefresh(d time.Duration) {
	s.mu.Lock()
	fn := s.refresh
	s.mu.Unlock()
	if fn != nil {
		time.AfterFunc(d, fn)
	}
}

// Fetch polls both sources concurrently and selects the active one.
func (s *Service) Fetch(ctx context.Context) error {
	var (
		wg             sync.WaitGroup
		spotify, sonos *models.Playback
		errSp, errSo   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		spotify, errSp = s.nowPlaying(ctx, models.MusicSpotify)
	}()
	go func() {
		defer wg.Done()
		sonos, errSo = s.nowPlaying(ctx, models.MusicSonos)
	}()
	wg.Wait()

	now := s.now()
	s.hub.Update(func(st *models.State) {
		st.Music.Spotify = spotify
		st.Music.Sonos = sonos
		st.Music.Active = SelectActive(spotify, sonos)
		if errSp != nil && errSo != nil {
			st.Music.Fail(errors.Join(errSp, errSo))
		} else {
			st.Music.Succeed(now)
		}
	})
	if errSp != nil && errSo != nil {
		return errors.Join(errSp, errSo)
	}
	return nil
}

// nowPlaying fetches one source. A 401 is not an error: it yields an
// unauthenticated playback so the dashboard can offer sign-in.
func (s *Service) nowPlaying(ctx context.Context, source string) (*models.Playback, error) {
	status, body, err := s.bridge.Get(ctx, "/"+source+"nowplaying")
	if err != nil {
		return &models.Playback{Error: "cannot reach Node-RED"}, err
	}
	if status == http.StatusUnauthorized {
		return &models.Playback{Authenticated: false, Error: "not authenticated"}, nil
	}
	if status < 200 || status > 299 {
		err := models.StatusError(status, source)
		return &models.Playback{Error: err.Error()}, err
	}

	var np nowPlaying
	if err := json.Unmarshal(body, &np); err != nil {
		err = models.NetworkError(fmt.Errorf("%s: decode: %w", source, err))
		return &models.Playback{Error: "invalid response"}, err
	}
	if np.Error {
		msg := np.Message
		if msg == "" {
			msg = "error fetching playback"
		}
		return &models.Playback{Authenticated: true, Error: msg}, nil
	}

	p := &models.Playback{
		Authenticated: true,
		IsPlaying:     np.IsPlaying,
		Track:         deref(np.Track),
		Artist:        deref(np.Artist),
		Album:         deref(np.Album),
		AlbumArt:      deref(np.AlbumArt),
		Duration:      np.Duration,
		Volume:        np.Volume,
	}
	if source == models.MusicSpotify {
		p.Position = np.Progress
		p.Device = deref(np.Device)
	} else {
		p.Position = np.Position
		p.Device = deref(np.PlayerName)
	}
	return p, nil
}

func usable(p *models.Playback) bool {
	return p != nil && p.Authenticated && p.Error == ""
}

// SelectActive picks the source to show: Sonos playing, then Spotify
// playing, then Sonos with a track, then Spotify with a track, then a
// healthy Sonos, and Spotify otherwise.
func SelectActive(spotify, sonos *models.Playback) string {
	switch {
	case usable(sonos) && sonos.IsPlaying && sonos.Track != "":
		return models.MusicSonos
	case usable(spotify) && spotify.IsPlaying && spotify.Track != "":
		return models.MusicSpotify
	case usable(sonos) && sonos.Track != "":
		return models.MusicSonos
	case usable(spotify) && spotify.Track != "":
		return models.MusicSpotify
	case usable(sonos):
		return models.MusicSonos
	}
	return models.MusicSpotify
}

// Command sends a playback action to source. Toggle resolves to play or
// pause from the last known state.
func (s *Service) Command(ctx context.Context, source, action string) error {
	source = strings.ToLower(source)
	if source != models.MusicSpotify && source != models.MusicSonos {
		return models.ErrBadRequest("unknown music source " + source)
	}

	if action == ActionToggle {
		action = ActionPlay
		st := s.hub.State()
		p := st.Music.Spotify
		if source == models.MusicSonos {
			p = st.Music.Sonos
		}
		if p != nil && p.IsPlaying {
			action = ActionPause
		}
	}
	switch action {
	case ActionPlay, ActionPause, ActionNext, ActionPrevious:
	default:
		return models.ErrBadRequest("unknown action " + action)
	}

	if err := s.bridge.Post(ctx, "/"+source+action, nil); err != nil {
		return err
	}
	slog.Debug("music: command sent", "source", source, "action", action)

	if action == ActionPlay || action == ActionPause {
		playing := action == ActionPlay
		s.hub.Update(func(st *models.State) {
			if p := playbackOf(st, source); p != nil {
				p.IsPlaying = playing
			}
		})
	}
	s.scheduleRefresh(commandRefreshDelay)
	return nil
}

// SetVolume sets the Sonos volume, clamped to 0..100, and returns the value sent.
func (s *Service) SetVolume(ctx context.Context, volume int) (int, error) {
	volume = ClampVolume(volume)
	if err := s.bridge.Post(ctx, "/sonosvolume", map[string]int{"volume": volume}); err != nil {
		return 0, err
	}
	s.hub.Update(func(st *models.State) {
		if st.Music.Sonos != nil {
			st.Music.Sonos.Volume = volume
		}
	})
	s.scheduleRefresh(volumeRefreshDelay)
	return volume, nil
}

// ClampVolume limits v to 0..100.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// AuthURL is the bridge page that signs source in.
func (s *Service) AuthURL(source string) (string, error) {
	switch source {
	case models.MusicSpotify, models.MusicSonos:
		return s.bridge.URL("/" + source + "auth"), nil
	}
	return "", models.ErrBadRequest("unknown music source " + source)
}

func playbackOf(st *models.State, source string) *models.Playback {
	if source == models.MusicSonos {
		return st.Music.Sonos
	}
	return st.Music.Spotify
}
