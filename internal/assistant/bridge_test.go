package assistant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hearthlabs/homehub/internal/assistant"
	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

type fakeHub struct {
	mu    sync.Mutex
	state models.State
	key   string
}

func newFakeHub(key string) *fakeHub {
	return &fakeHub{state: models.DefaultState(models.DefaultSettings()), key: key}
}

func (h *fakeHub) Update(fn func(*models.State)) models.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	return h.state.DeepCopy()
}

func (h *fakeHub) GeminiKey() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

func (h *fakeHub) assistant() models.AssistantState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.DeepCopy().Assistant
}

type fakeCapture struct {
	ch     chan []float32
	once   sync.Once
	mu     sync.Mutex
	closes int
}

func (c *fakeCapture) Samples() <-chan []float32 { return c.ch }

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.ch) })
	return nil
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type played struct {
	at    float64
	bytes int
}

type fakePlayback struct {
	mu     sync.Mutex
	now    float64
	plays  []played
	stops  int
	closes int
}

func (p *fakePlayback) Now() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *fakePlayback) setNow(v float64) {
	p.mu.Lock()
	p.now = v
	p.mu.Unlock()
}

func (p *fakePlayback) Play(at float64, pcm []byte) error {
	p.mu.Lock()
	p.plays = append(p.plays, played{at: at, bytes: len(pcm)})
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) StopAll() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) snapshot() []played {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]played(nil), p.plays...)
}

type fakeDevices struct {
	captureErr  error
	playbackErr error
	capture     *fakeCapture
	playback    *fakePlayback
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		capture:  &fakeCapture{ch: make(chan []float32, 8)},
		playback: &fakePlayback{},
	}
}

func (d *fakeDevices) OpenCapture(ctx context.Context, rate int) (assistant.Capture, error) {
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.capture, nil
}

func (d *fakeDevices) OpenPlayback(ctx context.Context, rate int) (assistant.Playback, error) {
	if d.playbackErr != nil {
		return nil, d.playbackErr
	}
	return d.playback, nil
}

type fakeSession struct {
	in     chan *assistant.Message
	remote chan string
	closed chan struct{}
	once   sync.Once
	stall  chan struct{} // when set, SendAudio waits for it

	mu   sync.Mutex
	sent [][]byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		in:     make(chan *assistant.Message, 8),
		remote: make(chan string, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) SendAudio(ctx context.Context, pcm []byte) error {
	if s.stall != nil {
		select {
		case <-s.stall:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, pcm)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Recv() (*assistant.Message, error) {
	select {
	case msg := <-s.in:
		return msg, nil
	case reason := <-s.remote:
		return nil, &assistant.ClosedError{Reason: reason}
	case <-s.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSession) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	err     error
	block   bool
	dialing chan struct{}
	session *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, apiKey string) (assistant.Session, error) {
	d.mu.Lock()
	d.dials++
	block, err := d.block, d.err
	d.mu.Unlock()
	if block {
		close(d.dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.session, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type rig struct {
	bridge  *assistant.Bridge
	hub     *fakeHub
	devices *fakeDevices
	dialer  *fakeDialer
	session *fakeSession
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		hub:     newFakeHub("test-key"),
		devices: newFakeDevices(),
		session: newFakeSession(),
	}
	r.dialer = &fakeDialer{session: r.session, dialing: make(chan struct{})}
	r.bridge = assistant.NewBridge(r.devices, r.dialer, r.hub, config.Default().Gemini)
	t.Cleanup(func() { r.bridge.Stop("") })
	return r
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_WhileActiveCreatesNoSecondSession(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.bridge.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.bridge.Active() || !r.hub.assistant().Active {
		t.Fatal("bridge not active after Start")
	}
	if err := r.bridge.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := r.dialer.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if r.session.isClosed() {
		t.Error("second Start disturbed the running session")
	}
}

func TestStop_Idempotent(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.bridge.Stop("")
	first := r.hub.assistant()
	logs := len(first.Log)
	r.bridge.Stop("")
	second := r.hub.assistant()

	if r.bridge.Active() || second.Active || second.Starting || second.Speaking {
		t.Errorf("state after Stop = %+v", second)
	}
	if second.Error != "" {
		t.Errorf("Error = %q, want none", second.Error)
	}
	if len(second.Log) != logs {
		t.Error("second Stop had side effects")
	}
	if r.devices.capture.closeCount() != 1 {
		t.Errorf("capture closed %d times, want 1", r.devices.capture.closeCount())
	}
	if r.devices.playback.closes != 1 {
		t.Errorf("playback closed %d times, want 1", r.devices.playback.closes)
	}
	if !r.session.isClosed() {
		t.Error("remote session not closed")
	}
}

func TestStop_Reasons(t *testing.T) {
	tests := []struct {
		name      string
		reason    string
		wantError string
		wantKey   bool
	}{
		{"auth", "API key not valid. Please pass a valid API key.", assistant.AuthMessage, true},
		{"forbidden", "HTTP 403", assistant.AuthMessage, true},
		{"other", "socket error", "socket error", false},
		{"normal close", assistant.NormalReason, "", false},
		{"no reason", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			if err := r.bridge.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			r.bridge.Stop(tt.reason)
			st := r.hub.assistant()
			if st.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", st.Error, tt.wantError)
			}
			if st.NeedsKey != tt.wantKey {
				t.Errorf("NeedsKey = %v, want %v", st.NeedsKey, tt.wantKey)
			}
		})
	}
}

func TestStart_PermissionDenied(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed", &assistant.Error{Kind: assistant.KindPermission, Err: errors.New("microphone access denied")}},
		{"plain", errors.New("NotAllowedError")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.devices.captureErr = tt.err

			err := r.bridge.Start(context.Background())
			if !assistant.IsPermission(err) {
				t.Fatalf("Start error = %v, want permission", err)
			}
			if r.bridge.Active() || r.bridge.Starting() {
				t.Error("bridge not idle after failed start")
			}
			if r.dialer.dialCount() != 0 {
				t.Error("remote session dialled despite denied microphone")
			}
			if st := r.hub.assistant(); st.Starting || st.Error == "" {
				t.Errorf("state = %+v, want error and not starting", st)
			}
		})
	}
}

func TestStart_AuthFailureReleasesEverything(t *testing.T) {
	r := newRig(t)
	r.dialer.err = errors.New("websocket dial: HTTP 403: bad handshake")

	err := r.bridge.Start(context.Background())
	if !assistant.IsAuth(err) || !assistant.IsConnection(err) {
		t.Fatalf("Start error = %v, want auth", err)
	}
	st := r.hub.assistant()
	if !st.NeedsKey || st.Error != assistant.AuthMessage {
		t.Errorf("state = %+v, want needs key", st)
	}
	if r.devices.capture.closeCount() != 1 || r.devices.playback.closes != 1 {
		t.Errorf("handles not released: capture %d playback %d",
			r.devices.capture.closeCount(), r.devices.playback.closes)
	}
}

func TestStart_ConnectionFailure(t *testing.T) {
	r := newRig(t)
	r.dialer.err = errors.New("dial tcp: i/o timeout")

	err := r.bridge.Start(context.Background())
	if !assistant.IsConnection(err) || assistant.IsAuth(err) {
		t.Fatalf("Start error = %v, want connection", err)
	}
	if st := r.hub.assistant(); st.NeedsKey || st.Error != "dial tcp: i/o timeout" {
		t.Errorf("state = %+v", st)
	}
}

func TestStart_NoKey(t *testing.T) {
	r := newRig(t)
	r.hub.key = ""

	if err := r.bridge.Start(context.Background()); !assistant.IsAuth(err) {
		t.Fatalf("Start error = %v, want auth", err)
	}
	if !r.hub.assistant().NeedsKey {
		t.Error("NeedsKey not set")
	}
}

func TestStop_AbortsStart(t *testing.T) {
	r := newRig(t)
	r.dialer.block = true

	done := make(chan error, 1)
	go func() { done <- r.bridge.Start(context.Background()) }()

	select {
	case <-r.dialer.dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("Start never dialled")
	}
	if !r.bridge.Starting() || !r.hub.assistant().Starting {
		t.Error("bridge not starting while dialling")
	}

	r.bridge.Stop("")

	select {
	case err := <-done:
		if !errors.Is(err, assistant.ErrAborted) {
			t.Errorf("Start error = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start not aborted by Stop")
	}
	if r.bridge.Active() || r.bridge.Starting() {
		t.Error("bridge not idle after aborted start")
	}
	if r.devices.capture.closeCount() != 1 {
		t.Error("capture not released after abort")
	}
}

// chunk returns one second of silence at the output rate.
func chunk(seconds float64) []byte {
	return make([]byte, int(seconds*assistant.OutputSampleRate)*2)
}

func TestPlayback_BackToBack(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pb := r.devices.playback

	r.session.in <- &assistant.Message{Audio: [][]byte{chunk(1)}}
	eventually(t, "first chunk", func() bool { return len(pb.snapshot()) == 1 })
	eventually(t, "speaking", func() bool { return r.hub.assistant().Speaking })

	pb.setNow(0.2)
	r.session.in <- &assistant.Message{Audio: [][]byte{chunk(1)}}
	eventually(t, "second chunk", func() bool { return len(pb.snapshot()) == 2 })

	plays := pb.snapshot()
	if plays[0].at != 0 || plays[1].at != 1.0 {
		t.Errorf("starts = %v, %v; want 0, 1.0", plays[0].at, plays[1].at)
	}
}

func TestPlayback_NoPrematureStart(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pb := r.devices.playback

	r.session.in <- &assistant.Message{Audio: [][]byte{chunk(1)}}
	eventually(t, "first chunk", func() bool { return len(pb.snapshot()) == 1 })
	pb.setNow(5.0)
	r.session.in <- &assistant.Message{Audio: [][]byte{chunk(1)}}
	eventually(t, "second chunk", func() bool { return len(pb.snapshot()) == 2 })

	if got := pb.snapshot()[1].at; got != 5.0 {
		t.Errorf("second start = %v, want 5.0", got)
	}
}

func TestSpeakingClearsAfterPlayback(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.session.in <- &assistant.Message{Audio: [][]byte{chunk(0.05)}}
	eventually(t, "speaking", func() bool { return r.hub.assistant().Speaking })
	eventually(t, "speaking to clear", func() bool { return !r.hub.assistant().Speaking })
}

func TestCaptureIsFramedAndSent(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.devices.capture.ch <- make([]float32, 5000)

	eventually(t, "frame sent", func() bool { return len(r.session.sentFrames()) == 1 })
	if got := len(r.session.sentFrames()[0]); got != 2*assistant.FrameSamples {
		t.Errorf("frame size = %d bytes, want %d", got, 2*assistant.FrameSamples)
	}
}

func TestSlowUplinkCountsDroppedFrames(t *testing.T) {
	r := newRig(t)
	r.session.stall = make(chan struct{})
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.devices.capture.ch <- make([]float32, 40*assistant.FrameSamples)

	eventually(t, "dropped frames published", func() bool { return r.hub.assistant().DroppedFrames > 0 })
	if got := r.hub.assistant().DroppedFrames; got > 40 {
		t.Errorf("DroppedFrames = %d, more than were captured", got)
	}

}

func TestTranscriptAccumulates(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.session.in <- &assistant.Message{Text: "Hello "}
	r.session.in <- &assistant.Message{Text: "world", TurnComplete: true}
	eventually(t, "transcript", func() bool { return r.hub.assistant().Transcript == "Hello world" })
}

func TestRemoteClose(t *testing.T) {
	tests := []struct {
		name      string
		reason    string
		wantError string
		wantKey   bool
	}{
		{"invalid key", "API key not valid. Please pass a valid API key.", assistant.AuthMessage, true},
		{"normal", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			if err := r.bridge.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			r.session.remote <- tt.reason
			eventually(t, "bridge to stop", func() bool { return !r.bridge.Active() })

			st := r.hub.assistant()
			if st.Active || st.Error != tt.wantError || st.NeedsKey != tt.wantKey {
				t.Errorf("state = %+v", st)
			}
			if r.devices.capture.closeCount() != 1 {
				t.Error("capture not released after remote close")
			}
		})
	}
}

func TestMicrophoneDisconnectStops(t *testing.T) {
	r := newRig(t)
	if err := r.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.devices.capture.Close()
	eventually(t, "bridge to stop", func() bool { return !r.bridge.Active() })
	if st := r.hub.assistant(); st.Error == "" {
		t.Error("microphone loss not reported")
	}
}
