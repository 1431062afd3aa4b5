// Package assistant bridges a microphone to a Gemini Live session and
// plays the spoken replies back without gaps or overlap.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

// Hub is the part of the state owner the bridge uses.
type Hub interface {
	Update(fn func(*models.State)) models.State
	GeminiKey() string
}

// Bridge runs at most one voice session at a time.
type Bridge struct {
	devices Devices
	dialer  Dialer
	hub     Hub
	policy  Policy
	limit   int

	mu       sync.Mutex
	starting *activeSession
	active   *activeSession
}

// NewBridge creates an idle bridge.
func NewBridge(devices Devices, dialer Dialer, hub Hub, cfg config.Gemini) *Bridge {
	policy, err := ParsePolicy(cfg.SendPolicy)
	if err != nil {
		slog.Warn("assistant: invalid send policy, using drop-oldest", "policy", cfg.SendPolicy)
		policy = PolicyDropOldest
	}
	return &Bridge{
		devices: devices,
		dialer:  dialer,
		hub:     hub,
		policy:  policy,
		limit:   cfg.SendQueueFrames,
	}
}

// Active reports whether a session is running.
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil
}

// Starting reports whether a session is being set up.
func (b *Bridge) Starting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starting != nil
}

func (b *Bridge) log(level, msg string) {
	if level == models.LogError {
		slog.Warn("assistant: " + msg)
	} else {
		slog.Info("assistant: " + msg)
	}
	b.hub.Update(func(st *models.State) {
		st.Assistant.Log = models.AppendLog(st.Assistant.Log, level, msg)
	})
}

// Start opens capture, playback and the remote session. It is a no-op
// while a session is starting or running. On failure every acquired
// handle is released and the failure is reported like Stop(reason).
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.starting != nil || b.active != nil {
		b.mu.Unlock()
		return nil
	}
	sess := newActiveSession(b.policy, b.limit)
	b.starting = sess
	b.mu.Unlock()

	b.hub.Update(func(st *models.State) {
		st.Assistant.Starting = true
		st.Assistant.Error = ""
		st.Assistant.NeedsKey = false
		st.Assistant.Transcript = ""
		st.Assistant.DroppedFrames = 0
	})
	b.log(models.LogInfo, "starting session")

	err := b.open(ctx, sess)

	b.mu.Lock()
	if b.starting != sess {
		// Stop ran while we were starting
		b.mu.Unlock()
		sess.close()
		b.log(models.LogInfo, "start aborted")
		return ErrAborted
	}
	if err != nil {
		b.mu.Unlock()
		b.stop(sess, err.Error(), IsAuth(err))
		return err
	}
	b.starting = nil
	b.active = sess
	b.mu.Unlock()

	b.hub.Update(func(st *models.State) {
		st.Assistant.Starting = false
		st.Assistant.Active = true
	})
	b.log(models.LogSuccess, "session open")

	capture, playback, remote := sess.handles()
	go b.captureLoop(sess, capture)
	go b.sendLoop(sess, remote)
	go b.receiveLoop(sess, remote, playback)
	return nil
}

func (b *Bridge) open(ctx context.Context, sess *activeSession) error {
	key := strings.TrimSpace(b.hub.GeminiKey())
	if key == "" {
		return newError(KindAuth, errors.New("no API key configured"))
	}

	// the request context only bounds setup; Stop cancels sess.ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	capture, err := b.devices.OpenCapture(ctx, InputSampleRate)
	if err != nil {
		if _, ok := kindOf(err); ok {
			return err
		}
		return newError(KindPermission, fmt.Errorf("microphone: %w", err))
	}
	if !sess.adoptCapture(capture) {
		return ErrAborted
	}

	playback, err := b.devices.OpenPlayback(ctx, OutputSampleRate)
	if err != nil {
		if _, ok := kindOf(err); ok {
			return err
		}
		return newError(KindDevice, fmt.Errorf("playback: %w", err))
	}
	if !sess.adoptPlayback(playback) {
		return ErrAborted
	}

	remote, err := b.dialer.Dial(ctx, key)
	if err != nil {
		if _, ok := kindOf(err); ok {
			return err
		}
		return connectionError(err)
	}
	if !sess.adoptRemote(remote) {
		return ErrAborted
	}
	return nil
}

// Stop tears the running or starting session down. Calling it again is a
// no-op. An auth-class reason asks the user for a new key; any other
// non-empty reason except NormalReason becomes the visible error.
func (b *Bridge) Stop(reason string) {
	b.stop(nil, reason, false)
}

// stop tears down target, or whatever session exists when target is nil.
// Loops of a session that has already been replaced pass their own
// session and are ignored. auth forces the credential prompt for
// failures whose text does not show it.
func (b *Bridge) stop(target *activeSession, reason string, auth bool) {
	b.mu.Lock()
	sess := b.active
	if sess == nil {
		sess = b.starting
	}
	if sess == nil || (target != nil && target != sess) {
		b.mu.Unlock()
		return
	}
	b.active = nil
	b.starting = nil
	b.mu.Unlock()

	sess.close()

	label := reason
	if label == "" {
		label = "none given"
	}
	b.log(models.LogInfo, "stopping session, reason: "+label)

	auth = reason != "" && reason != NormalReason && (auth || IsAuthFailure(reason))
	b.hub.Update(func(st *models.State) {
		st.Assistant.Starting = false
		st.Assistant.Active = false
		st.Assistant.Speaking = false
		if reason == "" || reason == NormalReason {
			return
		}
		if auth {
			st.Assistant.NeedsKey = true
			st.Assistant.Error = AuthMessage
		} else {
			st.Assistant.Error = reason
		}
	})
	if auth {
		b.log(models.LogError, "authentication failure detected")
	}
}

func (b *Bridge) captureLoop(sess *activeSession, capture Capture) {
	framer := NewFramer(FrameSamples)
	var reported int64
	for {
		select {
		case <-sess.ctx.Done():
			return
		case samples, ok := <-capture.Samples():
			if !ok {
				b.stop(sess, "microphone disconnected", false)
				return
			}
			for _, frame := range framer.Push(samples) {
				if err := sess.queue.Push(sess.ctx, EncodePCM16(frame)); err != nil {
					return
				}
			}
			if n := sess.queue.Dropped(); n != reported {
				reported = n
				b.hub.Update(func(st *models.State) {
					st.Assistant.DroppedFrames = n
				})
			}
		}
	}
}

func (b *Bridge) sendLoop(sess *activeSession, remote Session) {
	for {
		frame, err := sess.queue.Pop(sess.ctx)
		if err != nil {
			return
		}
		if err := remote.SendAudio(sess.ctx, frame); err != nil {
			if sess.ctx.Err() == nil {
				b.stop(sess, err.Error(), false)
			}
			return
		}
	}
}

func (b *Bridge) receiveLoop(sess *activeSession, remote Session, playback Playback) {
	for {
		msg, err := remote.Recv()
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			var closed *ClosedError
			if errors.As(err, &closed) {
				b.stop(sess, closed.Error(), false)
			} else {
				b.stop(sess, err.Error(), false)
			}
			return
		}

		if msg.Interrupted {
			sess.stopVoices()
			b.setSpeaking(sess, false)
		}
		for _, chunk := range msg.Audio {
			b.play(sess, playback, chunk)
		}
		if msg.Text != "" {
			b.hub.Update(func(st *models.State) {
				st.Assistant.Transcript += msg.Text
			})
		}
		if msg.TurnComplete {
			slog.Debug("assistant: turn complete", "session", sess.id)
		}
	}
}

// play schedules one inbound PCM chunk on the playback cursor.
func (b *Bridge) play(sess *activeSession, playback Playback, pcm []byte) {
	duration := PCMDuration(pcm, OutputSampleRate)
	if duration <= 0 {
		return
	}
	now := playback.Now()
	start := sess.sched.Schedule(now, duration)
	if err := playback.Play(start, pcm); err != nil {
		slog.Debug("assistant: play failed", "err", err)
		return
	}
	end := start + duration - now
	if sess.addVoice(seconds(end), func() { b.setSpeaking(sess, false) }) {
		b.setSpeaking(sess, true)
	}
}

func (b *Bridge) setSpeaking(sess *activeSession, speaking bool) {
	b.mu.Lock()
	current := b.active == sess
	b.mu.Unlock()
	if !current {
		return
	}
	b.hub.Update(func(st *models.State) {
		st.Assistant.Speaking = speaking
	})
}
