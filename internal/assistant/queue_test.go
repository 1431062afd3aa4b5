package assistant

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendQueue_DropOldest(t *testing.T) {
	q := newSendQueue(PolicyDropOldest, 2)
	ctx := context.Background()
	for _, f := range []string{"a", "b", "c", "d"} {
		if err := q.Push(ctx, []byte(f)); err != nil {
			t.Fatalf("Push(%s): %v", f, err)
		}
	}
	if q.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", q.Dropped())
	}
	for _, want := range []string{"c", "d"} {
		got, err := q.Pop(ctx)
		if err != nil || string(got) != want {
			t.Fatalf("Pop = %q, %v; want %q", got, err, want)
		}
	}
}

func TestSendQueue_Unbounded(t *testing.T) {
	q := newSendQueue(PolicyUnbounded, 1)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = q.Push(ctx, []byte{byte(i)})
	}
	if q.Len() != 100 || q.Dropped() != 0 {
		t.Errorf("Len = %d Dropped = %d", q.Len(), q.Dropped())
	}
}

func TestSendQueue_BlockWaitsForSpace(t *testing.T) {
	q := newSendQueue(PolicyBlock, 1)
	ctx := context.Background()
	_ = q.Push(ctx, []byte("a"))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, []byte("b")) }()

	select {
	case <-pushed:
		t.Fatal("Push returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got, _ := q.Pop(ctx); string(got) != "a" {
		t.Fatalf("Pop = %q, want a", got)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Push never completed")
	}
	if got, _ := q.Pop(ctx); string(got) != "b" {
		t.Errorf("Pop = %q, want b", got)
	}
}

func TestSendQueue_BlockHonoursContext(t *testing.T) {
	q := newSendQueue(PolicyBlock, 1)
	_ = q.Push(context.Background(), []byte("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, []byte("b")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push error = %v, want deadline exceeded", err)
	}
}

func TestSendQueue_CloseWakesPop(t *testing.T) {
	q := newSendQueue(PolicyDropOldest, 4)
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, errQueueClosed) {
			t.Errorf("Pop error = %v, want errQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop not woken by Close")
	}
	if err := q.Push(context.Background(), []byte("x")); !errors.Is(err, errQueueClosed) {
		t.Errorf("Push after Close = %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"":            PolicyDropOldest,
		"drop-oldest": PolicyDropOldest,
		" Block ":     PolicyBlock,
		"unbounded":   PolicyUnbounded,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("drop-newest"); err == nil {
		t.Error("ParsePolicy(drop-newest) error = nil")
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := map[string]bool{
		"API key not valid. Please pass a valid API key.": true,
		"Requested entity was not found.":                 true,
		"websocket dial: HTTP 403: bad handshake":         true,
		"HTTP 401":                                        true,
		"connection reset by peer":                        false,
		NormalReason:                                      false,
	}
	for reason, want := range tests {
		if got := IsAuthFailure(reason); got != want {
			t.Errorf("IsAuthFailure(%q) = %v, want %v", reason, got, want)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	auth := connectionError(errors.New("API key not valid"))
	if !IsAuth(auth) || !IsConnection(auth) || IsPermission(auth) {
		t.Errorf("auth error kinds wrong: %+v", auth)
	}
	conn := connectionError(errors.New("i/o timeout"))
	if IsAuth(conn) || !IsConnection(conn) {
		t.Errorf("connection error kinds wrong: %+v", conn)
	}
	perm := newError(KindPermission, errors.New("denied"))
	if !IsPermission(perm) || IsConnection(perm) {
		t.Errorf("permission error kinds wrong: %+v", perm)
	}
	if IsAuth(errors.New("plain")) {
		t.Error("plain error classified as auth")
	}
}
