package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// activeSession owns every handle of one running bridge session. close
// releases all of them and may be called any number of times.
type activeSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	queue *sendQueue
	sched Scheduler

	mu       sync.Mutex
	capture  Capture
	playback Playback
	remote   Session
	voices   int
	timers   []*time.Timer
	closed   bool

	once sync.Once
}

func newActiveSession(policy Policy, limit int) *activeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeSession{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		queue:  newSendQueue(policy, limit),
	}
}

// handles returns the currently owned handles.
func (s *activeSession) handles() (Capture, Playback, Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture, s.playback, s.remote
}

// The adopt methods hand a freshly opened handle to the session. A
// session that is already closed releases the handle at once and reports
// false.

func (s *activeSession) adoptCapture(c Capture) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close()
		return false
	}
	s.capture = c
	s.mu.Unlock()
	return true
}

func (s *activeSession) adoptPlayback(p Playback) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = p.Close()
		return false
	}
	s.playback = p
	s.mu.Unlock()
	return true
}

func (s *activeSession) adoptRemote(r Session) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = r.Close()
		return false
	}
	s.remote = r
	s.mu.Unlock()
	return true
}

// addVoice counts a scheduled chunk until its end and reports whether it
// is the first pending one. onIdle runs when the last one has ended.
func (s *activeSession) addVoice(until time.Duration, onIdle func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices++
	first := s.voices == 1
	t := time.AfterFunc(until, func() {
		s.mu.Lock()
		if s.closed || s.voices == 0 {
			s.mu.Unlock()
			return
		}
		s.voices--
		idle := s.voices == 0
		if idle {
			s.timers = nil
		}
		s.mu.Unlock()
		if idle {
			onIdle()
		}
	})
	s.timers = append(s.timers, t)
	return first
}

// stopVoices forgets every pending chunk and stops the output.
func (s *activeSession) stopVoices() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.voices = 0
	playback := s.playback
	s.mu.Unlock()
	if playback != nil {
		_ = playback.StopAll()
	}
}

func (s *activeSession) close() {
	s.once.Do(func() {
		s.cancel()
		s.queue.Close()

		s.mu.Lock()
		s.closed = true
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = nil
		s.voices = 0
		capture, playback, remote := s.capture, s.playback, s.remote
		s.mu.Unlock()

		if capture != nil {
			_ = capture.Close()
		}
		if playback != nil {
			_ = playback.StopAll()
			_ = playback.Close()
		}
		if remote != nil {
			_ = remote.Close()
		}
	})
}
