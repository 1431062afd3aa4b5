package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearthlabs/homehub/internal/models"
)

// Microphone permission states announced by the browser.
const (
	MicUnknown = "unknown"
	MicGranted = "granted"
	MicDenied  = "denied"
)

const (
	relayWriteTimeout = 5 * time.Second
	// captureBuffer is how many browser frames may wait for the framer.
	captureBuffer = 32
)

// ClientMessage is a text frame sent by the dashboard browser.
type ClientMessage struct {
	Type       string  `json:"type"` // "hello" | "microphone" | "clock"
	Microphone string  `json:"microphone,omitempty"`
	Clock      float64 `json:"clock,omitempty"`
}

// Command is a text frame sent to the dashboard browser.
type Command struct {
	Type   string  `json:"type"` // "capture" | "open" | "play" | "stop" | "close"
	// Data is base64 little-endian float32 mono samples on "play".
	Target string  `json:"target,omitempty"`
	Rate   int     `json:"rate,omitempty"`
	At     float64 `json:"at"`
	Data   string  `json:"data,omitempty"`
}

// UpdateHub is the part of the state owner the relay reports to.
type UpdateHub interface {
	Update(fn func(*models.State)) models.State
}

// Relay exposes the audio devices of the browser attached over
// /api/assistant/audio. Only the most recent client is used.
type Relay struct {
	hub UpdateHub

	mu     sync.Mutex
	client *relayClient
}

// NewRelay creates a relay with no client attached.
func NewRelay(hub UpdateHub) *Relay {
	return &Relay{hub: hub}
}

type relayClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	mu      sync.Mutex
	mic     string
	clock   float64
	clockAt time.Time
	capture *relayCapture
}

func (c *relayClient) send(cmd Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	return c.conn.WriteJSON(cmd)
}

// now extrapolates the browser playback clock from its last report.
func (c *relayClient) now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clockAt.IsZero() {
		return 0
	}
	return c.clock + time.Since(c.clockAt).Seconds()
}

// Microphone returns the permission state announced by the client.
func (r *Relay) Microphone() string {
	r.mu.Lock()
	c := r.client
	r.mu.Unlock()
	if c == nil {
		return MicUnknown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic
}

func (r *Relay) setAttached(attached bool) {
	if r.hub == nil {
		return
	}
	r.hub.Update(func(st *models.State) {
		st.Assistant.AudioClient = attached
	})
}

// Serve runs one browser connection until it closes or ctx is done. A
// newer connection replaces an older one.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn) error {
	c := &relayClient{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
		mic:  MicUnknown,
	}

	r.mu.Lock()
	old := r.client
	r.client = c
	r.mu.Unlock()
	if old != nil {
		_ = old.send(Command{Type: "close", Target: "client"})
		_ = old.conn.Close()
	}
	r.setAttached(true)
	slog.Info("assistant: audio client attached", "client", c.id)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer r.detach(c)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch typ {
		case websocket.BinaryMessage:
			c.deliver(DecodeFloat32(data))
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Debug("assistant: bad client message", "client", c.id, "err", err)
				continue
			}
			c.handle(msg)
		}
	}
}

func (r *Relay) detach(c *relayClient) {
	close(c.done)
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	c.mu.Unlock()
	if capture != nil {
		capture.end()
	}

	r.mu.Lock()
	current := r.client == c
	if current {
		r.client = nil
	}
	r.mu.Unlock()
	if current {
		r.setAttached(false)
	}
	slog.Info("assistant: audio client detached", "client", c.id)
}

func (c *relayClient) handle(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "hello", "microphone":
		switch msg.Microphone {
		case MicGranted, MicDenied:
			c.mic = msg.Microphone
		}
		if msg.Type == "hello" {
			c.clock = msg.Clock
			c.clockAt = time.Now()
		}
	case "clock":
		c.clock = msg.Clock
		c.clockAt = time.Now()
	}
}

func (c *relayClient) deliver(samples []float32) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture != nil {
		capture.push(samples)
	}
}

func (r *Relay) current() *relayClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// OpenCapture asks the attached browser to stream its microphone. No
// client or a denied microphone is a permission error.
func (r *Relay) OpenCapture(ctx context.Context, rate int) (Capture, error) {
	c := r.current()
	if c == nil {
		return nil, newError(KindPermission, errors.New("no audio client attached"))
	}
	c.mu.Lock()
	if c.mic == MicDenied {
		c.mu.Unlock()
		return nil, newError(KindPermission, errors.New("microphone access denied"))
	}
	capture := &relayCapture{client: c, ch: make(chan []float32, captureBuffer)}
	if c.capture != nil {
		c.capture.end()
	}
	c.capture = capture
	c.mu.Unlock()

	if err := c.send(Command{Type: "capture", Rate: rate}); err != nil {
		capture.Close()
		return nil, newError(KindDevice, err)
	}
	return capture, nil
}

// OpenPlayback asks the attached browser to open its output at rate.
func (r *Relay) OpenPlayback(ctx context.Context, rate int) (Playback, error) {
	c := r.current()
	if c == nil {
		return nil, newError(KindDevice, errors.New("no audio client attached"))
	}
	if err := c.send(Command{Type: "open", Target: "playback", Rate: rate}); err != nil {
		return nil, newError(KindDevice, err)
	}
	return &relayPlayback{client: c}, nil
}

type relayCapture struct {
	client *relayClient
	ch     chan []float32
	once   sync.Once
	mu     sync.Mutex
	ended  bool
}

func (rc *relayCapture) Samples() <-chan []float32 { return rc.ch }

// push never blocks the read loop; frames are dropped when the bridge
// falls behind.
func (rc *relayCapture) push(samples []float32) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.ended {
		return
	}
	select {
	case rc.ch <- samples:
	default:
		slog.Debug("assistant: capture buffer full, frame dropped")
	}
}

func (rc *relayCapture) end() {
	rc.once.Do(func() {
		rc.mu.Lock()
		rc.ended = true
		close(rc.ch)
		rc.mu.Unlock()
	})
}

func (rc *relayCapture) Close() error {
	c := rc.client
	c.mu.Lock()
	if c.capture == rc {
		c.capture = nil
	}
	c.mu.Unlock()
	rc.end()
	select {
	case <-c.done:
		return nil
	default:
	}
	return c.send(Command{Type: "close", Target: "capture"})
}

type relayPlayback struct {
	client *relayClient
	once   sync.Once
}

func (p *relayPlayback) Now() float64 { return p.client.now() }

// Play ships the chunk as float32 samples, the layout of a Web Audio
// buffer, so the browser only copies it.
func (p *relayPlayback) Play(at float64, pcm []byte) error {
	samples := EncodeFloat32(DecodePCM16(pcm))
	return p.client.send(Command{Type: "play", At: at, Data: base64.StdEncoding.EncodeToString(samples)})
}

func (p *relayPlayback) StopAll() error {
	select {
	case <-p.client.done:
		return nil
	default:
	}
	return p.client.send(Command{Type: "stop"})
}

func (p *relayPlayback) Close() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.client.done:
			return
		default:
		}
		err = p.client.send(Command{Type: "close", Target: "playback"})
	})
	return err
}
