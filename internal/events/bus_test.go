package events_test

import (
	"testing"
	"time"

	"github.com/hearthlabs/homehub/internal/events"
	"github.com/hearthlabs/homehub/internal/models"
)

func newState(left int) models.State {
	s := models.DefaultState(models.DefaultSettings())
	s.Timer.Left = left
	return s
}

func TestBusSubscribePublish(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test1")

	state := newState(42)
	state.Info.Version = "test-1.0"
	bus.Publish(state)

	select {
	case got := <-ch:
		if got.Info.Version != "test-1.0" || got.Timer.Left != 42 {
			t.Errorf("got version %q left %d", got.Info.Version, got.Timer.Left)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test-unsub")

	bus.Unsubscribe("test-unsub")

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Unsubscribing twice must not panic on a closed channel.
	bus.Unsubscribe("test-unsub")
}

func TestBusSlowSubscriberKeepsLatest(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("slow-reader")

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 50; i++ {
			bus.Publish(newState(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	bus.Unsubscribe("slow-reader")
	var got []int
	for st := range ch {
		got = append(got, st.Timer.Left)
	}
	if len(got) == 0 || len(got) > 8 {
		t.Fatalf("buffered snapshots = %d, want 1..8", len(got))
	}
	if last := got[len(got)-1]; last != 50 {
		t.Errorf("last snapshot = %d, want the latest (50)", last)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("snapshots out of order: %v", got)
		}
	}
}

func TestBusResubscribeReplaces(t *testing.T) {
	bus := events.NewBus()
	first := bus.Subscribe("tab")
	second := bus.Subscribe("tab")

	if _, ok := <-first; ok {
		t.Error("replaced channel still open")
	}
	bus.Publish(newState(1))
	if st := <-second; st.Timer.Left != 1 {
		t.Errorf("second channel got %d", st.Timer.Left)
	}
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", n)
	}
}

func TestBusClose(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("s1")

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("subscription open after Close")
	}
	if _, ok := <-bus.Subscribe("late"); ok {
		t.Error("subscription on a closed bus is open")
	}
	bus.Publish(newState(1)) // no subscribers, no panic
	bus.Unsubscribe("s1")
}

func TestBusSubscriberCount(t *testing.T) {
	bus := events.NewBus()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	bus.Subscribe("s1")
	bus.Subscribe("s2")
	if n := bus.SubscriberCount(); n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}
	bus.Unsubscribe("s1")
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
}
