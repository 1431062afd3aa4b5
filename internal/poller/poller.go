// Package poller runs widget fetches on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Func fetches one widget. The returned error has already been recorded in
// the widget's state by the caller; the poller only logs it.
type Func func(ctx context.Context) error

// Poller calls fn immediately, then every interval, and on demand.
// A failed call is retried on the next tick; there is no backoff.
type Poller struct {
	name     string
	interval time.Duration
	fn       Func
	refresh  chan struct{}
}

// New creates a poller. It does nothing until Run is called.
func New(name string, interval time.Duration, fn Func) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		fn:       fn,
		refresh:  make(chan struct{}, 1),
	}
}

// Name returns the widget name.
func (p *Poller) Name() string { return p.name }

// Refresh requests an immediate fetch. Requests coalesce while one is pending.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx) // immediate first fetch

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.refresh:
			p.tick(ctx)
			ticker.Reset(p.interval)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if err := p.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("poller: fetch failed", "widget", p.name, "err", err)
		return
	}
	slog.Debug("poller: fetched", "widget", p.name)
}

// Group is a named set of pollers started together.
type Group struct {
	mu      sync.Mutex
	pollers map[string]*Poller
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{pollers: make(map[string]*Poller)}
}

// Add registers a poller. A poller with the same name is replaced.
func (g *Group) Add(p *Poller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pollers[p.name] = p
}

// Names returns the registered widget names in sorted order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.pollers))
	for name := range g.pollers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh triggers the named poller.
func (g *Group) Refresh(name string) error {
	g.mu.Lock()
	p, ok := g.pollers[name]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown widget %q", name)
	}
	p.Refresh()
	return nil
}

// Run starts every poller and blocks until ctx is cancelled and all have returned.
func (g *Group) Run(ctx context.Context) {
	g.mu.Lock()
	var wg sync.WaitGroup
	for _, p := range g.pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	g.mu.Unlock()
	wg.Wait()
}
