package assistant

import "context"

// Capture is an open microphone.
type Capture interface {
	// Samples delivers mono float samples at the capture rate. It is
	// closed when the device goes away or Close is called.
	Samples() <-chan []float32
	Close() error
}

// Playback is an open output device with its own clock.
type Playback interface {
	// Now returns the current position of the playback clock in seconds.
	Now() float64
	// Play queues 16-bit PCM to start at the given clock time.
	Play(at float64, pcm []byte) error
	// StopAll silences every queued and playing chunk.
	StopAll() error
	Close() error
}

// Devices opens audio endpoints.
type Devices interface {
	OpenCapture(ctx context.Context, rate int) (Capture, error)
	OpenPlayback(ctx context.Context, rate int) (Playback, error)
}

// Message is one meaningful server message of a remote session.
type Message struct {
	Audio        [][]byte
	Text         string
	TurnComplete bool
	Interrupted  bool
}

// Session is a bidirectional remote audio session.
type Session interface {
	SendAudio(ctx context.Context, pcm []byte) error
	// Recv blocks for the next message. A remote close yields *ClosedError.
	Recv() (*Message, error)
	Close() error
}

// Dialer opens remote sessions.
type Dialer interface {
	Dial(ctx context.Context, apiKey string) (Session, error)
}
