package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Policy decides what happens to an outbound frame when the send queue
// is full.
type Policy string

// Send queue policies.
const (
	PolicyDropOldest Policy = "drop-oldest"
	PolicyBlock      Policy = "block"
	PolicyUnbounded  Policy = "unbounded"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDropOldest, PolicyBlock, PolicyUnbounded:
		return p, nil
	case "":
		return PolicyDropOldest, nil
	default:
		return "", fmt.Errorf("unknown send policy %q", s)
	}
}

var errQueueClosed = errors.New("send queue closed")

// sendQueue buffers encoded frames between capture and the remote session.
type sendQueue struct {
	policy Policy
	limit  int

	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	dropped int64

	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

func newSendQueue(policy Policy, limit int) *sendQueue {
	if limit <= 0 {
		limit = 1
	}
	return &sendQueue{
		policy: policy,
		limit:  limit,
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push enqueues a frame. Only the block policy ever waits.
func (q *sendQueue) Push(ctx context.Context, frame []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if q.policy == PolicyUnbounded || len(q.frames) < q.limit {
			q.frames = append(q.frames, frame)
			q.mu.Unlock()
			signal(q.ready)
			return nil
		}
		if q.policy == PolicyDropOldest {
			q.frames[0] = nil
			q.frames = append(q.frames[1:], frame)
			q.dropped++
			dropped := q.dropped
			q.mu.Unlock()
			slog.Debug("assistant: send queue full, dropped oldest frame", "dropped", dropped)
			signal(q.ready)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
			return errQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop waits for the next frame.
func (q *sendQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			signal(q.space)
			return frame, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, errQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued frames.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames the drop-oldest policy discarded.
func (q *sendQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes every waiter. Queued frames are discarded.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.frames = nil
		close(q.done)
	}
}
