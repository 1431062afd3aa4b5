package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	sseKeepAlive = 25 * time.Second
	sseRetryMS   = 3000
)

// sseEvents streams state snapshots as "state" events. Clients receive the
// current state immediately, then every published change. Each event
// carries an increasing id; a reconnecting client always gets the full
// current state, so Last-Event-ID is not consulted.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	sub := uuid.NewString()
	ch := h.Bus.Subscribe(sub)
	defer h.Bus.Unsubscribe(sub)
	slog.Debug("sse: client connected", "subscriber", sub, "clients", h.Bus.SubscriberCount())

	s := &sseStream{w: w, rc: rc}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryMS); err != nil {
		return
	}
	if err := s.send(h.Hub.State()); err != nil {
		slog.Debug("sse: initial send failed", "subscriber", sub, "err", err)
		return
	}

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			err = s.send(state)
		case <-ping.C:
			err = s.comment("ping")
		}
		if err != nil {
			slog.Debug("sse: client gone", "subscriber", sub, "err", err)
			return
		}
	}
}

type sseStream struct {
	w   io.Writer
	rc  *http.ResponseController
	seq uint64
}

func (s *sseStream) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: state\ndata: %s\n\n", s.seq, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}
