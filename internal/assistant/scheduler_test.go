package assistant_test

import (
	"math/rand"
	"testing"

	"github.com/hearthlabs/homehub/internal/assistant"
)

func TestScheduler_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		arrivals   []float64
		durations  []float64
		wantStarts []float64
	}{
		{"back to back despite early arrival", []float64{0, 0.2}, []float64{1, 1}, []float64{0, 1.0}},
		{"no premature playback", []float64{0, 5.0}, []float64{1, 1}, []float64{0, 5.0}},
		{"three queued", []float64{0, 0, 0}, []float64{0.5, 0.25, 1}, []float64{0, 0.5, 0.75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s assistant.Scheduler
			for i, at := range tt.arrivals {
				if got := s.Schedule(at, tt.durations[i]); got != tt.wantStarts[i] {
					t.Errorf("chunk %d start = %v, want %v", i, got, tt.wantStarts[i])
				}
			}
		})
	}
}

func TestScheduler_NoOverlapNoTimeTravel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		var s assistant.Scheduler
		now := 0.0
		prevStart, prevEnd := -1.0, 0.0
		for i := 0; i < 200; i++ {
			now += rng.Float64() * 0.3
			d := 0.05 + rng.Float64()*0.5
			start := s.Schedule(now, d)

			want := now
			if prevEnd > want {
				want = prevEnd
			}
			if start != want {
				t.Fatalf("run %d chunk %d: start %v, want max(%v, %v)", run, i, start, now, prevEnd)
			}
			if start < now {
				t.Fatalf("chunk %d starts in the past", i)
			}
			if start < prevEnd {
				t.Fatalf("chunk %d overlaps previous", i)
			}
			if start < prevStart {
				t.Fatalf("chunk %d starts before previous", i)
			}
			prevStart, prevEnd = start, start+d
		}
		if s.Cursor() != prevEnd {
			t.Errorf("Cursor = %v, want %v", s.Cursor(), prevEnd)
		}
	}
}

func TestScheduler_Reset(t *testing.T) {
	var s assistant.Scheduler
	s.Schedule(10, 2)
	s.Reset()
	if got := s.Schedule(1, 1); got != 1 {
		t.Errorf("after Reset start = %v, want 1", got)
	}
}
