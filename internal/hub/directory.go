package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/funkyfirehose/relay/internal/models"
)

// Directory maps logical hub names to their single live instance. Every
// producer and subscriber resolving the same name reaches the same Hub.
type Directory struct {
	newHub func(name string) *Hub

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewDirectory creates a Directory that builds hubs with newHub on demand.
func NewDirectory(newHub func(name string) *Hub) *Directory {
	return &Directory{
		newHub: newHub,
		hubs:   make(map[string]*Hub),
	}
}

// Get returns the hub for name, creating and initializing it if no instance
// is live. Initialization happens under the directory lock so a name never
// has two instances at once.
func (d *Directory) Get(ctx context.Context, name string) (*Hub, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.hubs[name]; ok {
		return h, nil
	}

	h := d.newHub(name)
	if err := h.Initialize(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("initialize hub %s: %w", name, err)
	}
	d.hubs[name] = h
	return h, nil
}

// Evict drops the live instance for name, as the host would when recycling
// it. Its connections stay open; the next Get restores them.
func (d *Directory) Evict(name string) bool {
	d.mu.Lock()
	h, ok := d.hubs[name]
	delete(d.hubs, name)
	d.mu.Unlock()

	if ok {
		h.Close()
		slog.Info("hub: evicted", slog.String("hub", name))
	}
	return ok
}

// EvictIdle evicts every hub that has been inactive for longer than maxIdle
// and returns how many were evicted.
func (d *Directory) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	d.mu.Lock()
	var idle []*Hub
	for name, h := range d.hubs {
		if h.LastActive().Before(cutoff) {
			idle = append(idle, h)
			delete(d.hubs, name)
		}
	}
	d.mu.Unlock()

	for _, h := range idle {
		h.Close()
		slog.Info("hub: evicted", slog.String("hub", h.Name()), slog.String("reason", "idle"))
	}
	return len(idle)
}

// RunJanitor evicts idle hubs every interval until ctx is done.
func (d *Directory) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.EvictIdle(maxIdle); n > 0 {
				slog.Info("hub: idle eviction", slog.Int("evicted", n))
			}
		}
	}
}

// Close evicts every hub.
func (d *Directory) Close() {
	d.mu.Lock()
	names := make([]string, 0, len(d.hubs))
	for name := range d.hubs {
		names = append(names, name)
	}
	d.mu.Unlock()

	for _, name := range names {
		d.Evict(name)
	}
}

// Route addresses one hub name through a Directory. It never holds on to a
// Hub, so every call reaches whichever instance is live at the time.
type Route struct {
	dir  *Directory
	name string
}

// Route returns a Route for name.
func (d *Directory) Route(name string) Route {
	return Route{dir: d, name: name}
}

// Name returns the hub name the route resolves.
func (r Route) Name() string { return r.name }

// Hub resolves the live instance.
func (r Route) Hub(ctx context.Context) (*Hub, error) {
	return r.dir.Get(ctx, r.name)
}

// Dispatch broadcasts env on the live instance. If that instance is
// released between lookup and broadcast, the message goes to its successor.
func (r Route) Dispatch(ctx context.Context, env models.Envelope) (int, error) {
	for attempt := 0; ; attempt++ {
		h, err := r.dir.Get(ctx, r.name)
		if err != nil {
			return 0, err
		}
		n, err := h.Broadcast(ctx, env)
		if errors.Is(err, ErrClosed) && attempt == 0 {
			continue
		}
		return n, err
	}
}

// ServeHTTP hands the request to the live instance.
func (r Route) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h, err := r.dir.Get(req.Context(), r.name)
	if err != nil {
		slog.Error("hub: resolve failed", slog.String("hub", r.name), slog.Any("error", err))
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, req)
}
