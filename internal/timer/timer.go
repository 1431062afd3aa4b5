// Package timer is the kitchen countdown timer.
package timer

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hearthlabs/homehub/internal/models"
)

// MaxSeconds is the longest countdown the picker offers (99:59).
const MaxSeconds = 99*60 + 59

// Presets are the one-tap durations in minutes.
var Presets = []int{5, 10, 15, 30, 45}

// Hub is the part of the state owner the timer writes to.
type Hub interface {
	Update(fn func(*models.State)) models.State
}

// Timer counts down once per second and reports through the hub.
type Timer struct {
	hub  Hub
	unit time.Duration

	// ctl serialises Start, Stop and Close so exactly one countdown
	// goroutine exists at a time.
	ctl  sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns an idle timer.
func New(hub Hub) *Timer {
	return newTimer(hub, time.Second)
}

func newTimer(hub Hub, unit time.Duration) *Timer {
	return &Timer{hub: hub, unit: unit}
}

// Start begins a countdown of seconds, replacing a running one.
func (t *Timer) Start(seconds int) (models.TimerState, error) {
	if seconds <= 0 || seconds > MaxSeconds {
		return models.TimerState{}, fmt.Errorf("duration must be between 1 and %d seconds, got %d", MaxSeconds, seconds)
	}
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.halt()

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	st := t.hub.Update(func(st *models.State) {
		st.Timer = models.TimerState{Status: models.TimerRunning, Duration: seconds, Left: seconds}
	})
	slog.Info("timer: started", "seconds", seconds)

	go t.run(seconds, stop, done)
	return st.Timer, nil
}

// Stop cancels a countdown or silences a finished timer.
func (t *Timer) Stop() models.TimerState {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.halt()
	st := t.hub.Update(func(st *models.State) {
		st.Timer = models.TimerState{Status: models.TimerIdle}
	})
	return st.Timer
}

// Close stops the countdown goroutine without touching the state.
func (t *Timer) Close() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.halt()
}

// halt ends the running countdown and waits for it. Callers hold ctl.
func (t *Timer) halt() {
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	if stop != nil {
		close(stop)
		<-done
	}
}

// run counts against a deadline so slow ticks do not stretch the timer.
func (t *Timer) run(seconds int, stop, done chan struct{}) {
	defer close(done)
	deadline := time.Now().Add(time.Duration(seconds) * t.unit)
	ticker := time.NewTicker(t.unit)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			left := int(math.Ceil(float64(deadline.Sub(now)) / float64(t.unit)))
			if left <= 0 {
				t.hub.Update(func(st *models.State) {
					st.Timer.Status = models.TimerFinished
					st.Timer.Left = 0
				})
				slog.Info("timer: finished", "seconds", seconds)
				return
			}
			t.hub.Update(func(st *models.State) {
				st.Timer.Left = left
			})
		}
	}
}

// Format renders seconds as m:ss.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
