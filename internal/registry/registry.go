// Package registry implements the Document Registry (C6): the process-wide
// map from DocumentId to its live Hub, single-flighted so concurrent
// first-opens of the same document create exactly one Hub, and idle-GC'd so
// Hubs with no clients are eventually released.
package registry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/collabspace/collabd/internal/backplane"
	"github.com/collabspace/collabd/internal/bus"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/hub"
	"github.com/collabspace/collabd/internal/logger"
)

// Config tunes Registry capacity and idle behaviour.
type Config struct {
	MaxHubs          int // 0 = unlimited
	MaxClientsPerHub int // 0 = unlimited, forwarded to each Hub
	IdleGrace        time.Duration
	IdleJitterMax    time.Duration // spreads simultaneous expiries out; default 60s
	LockTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleGrace <= 0 {
		c.IdleGrace = 30 * time.Minute
	}
	if c.IdleJitterMax <= 0 {
		c.IdleJitterMax = 60 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	return c
}

// Registry owns every locally live Hub.
type Registry struct {
	cfg   Config
	bus   bus.Bus
	cache *backplane.Client

	mu    sync.RWMutex
	hubs  map[string]*entry
	group singleflight.Group
}

type entry struct {
	hub       *hub.Hub
	idleTimer *time.Timer
}

// New returns an empty Registry. cache may be a disabled backplane.Client
// (or nil) when no distributed lock is desired; the Registry still works
// correctly with only the in-process singleflight guarantee.
func New(b bus.Bus, cache *backplane.Client, cfg Config) *Registry {
	return &Registry{
		cfg:   cfg.withDefaults(),
		bus:   b,
		cache: cache,
		hubs:  make(map[string]*entry),
	}
}

// Get returns the Hub for documentID, creating it if this is the first open.
// Concurrent callers racing to open the same document block on the same
// singleflight call and all receive the same Hub.
func (r *Registry) Get(ctx context.Context, documentID string) (*hub.Hub, error) {
	r.mu.Lock()
	if e, ok := r.hubs[documentID]; ok {
		r.stopIdleTimerLocked(e)
		h := e.hub
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(documentID, func() (interface{}, error) {
		r.mu.RLock()
		if e, ok := r.hubs[documentID]; ok {
			h := e.hub
			r.mu.RUnlock()
			return h, nil
		}
		r.mu.RUnlock()

		r.mu.Lock()
		if len(r.hubs) >= r.cfg.MaxHubs && r.cfg.MaxHubs > 0 {
			r.mu.Unlock()
			return nil, collaberrors.Capacity()
		}
		r.mu.Unlock()

		if r.cache != nil {
			lockKey := "collab:create-lock:" + documentID
			acquired, lockErr := r.cache.TryLock(ctx, lockKey, r.cfg.LockTTL)
			if lockErr != nil {
				logger.Hub().Warn().Err(lockErr).Str("document", documentID).Msg("distributed create lock unavailable, proceeding with local guarantee only")
			} else if acquired {
				defer func() { _ = r.cache.Unlock(ctx, lockKey) }()
			}
		}

		h, err := hub.New(documentID, r.bus, hub.Config{MaxClients: r.cfg.MaxClientsPerHub})
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.hubs[documentID] = &entry{hub: h}
		r.mu.Unlock()

		logger.Hub().Info().Str("document", documentID).Msg("hub created")
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*hub.Hub), nil
}

// Release is called after a client disconnects. If h is now empty, an idle
// timer is armed; if the timer fires with the Hub still empty, the Hub is
// torn down and removed.
func (r *Registry) Release(documentID string, h *hub.Hub) {
	if h.ClientCount() > 0 {
		return
	}

	r.mu.Lock()
	e, ok := r.hubs[documentID]
	if !ok || e.hub != h {
		r.mu.Unlock()
		return
	}
	r.stopIdleTimerLocked(e)
	var jitter time.Duration
	if r.cfg.IdleJitterMax > 0 {
		jitter = time.Duration(rand.Int63n(int64(r.cfg.IdleJitterMax)))
	}
	e.idleTimer = time.AfterFunc(r.cfg.IdleGrace+jitter, func() { r.expire(documentID, h) })
	r.mu.Unlock()
}

func (r *Registry) expire(documentID string, h *hub.Hub) {
	r.mu.Lock()
	e, ok := r.hubs[documentID]
	if !ok || e.hub != h || h.ClientCount() > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.hubs, documentID)
	r.mu.Unlock()

	if err := h.Close(); err != nil {
		logger.Hub().Warn().Err(err).Str("document", documentID).Msg("error closing idle hub")
	}
	logger.Hub().Info().Str("document", documentID).Msg("hub released after idle grace period")
}

// Drain implements the shutdown sequence (§5): every currently open Hub is
// sent a shutdown notification, callers are given up to deadline to react,
// and then every remaining client is disconnected with ErrShutdown.
func (r *Registry) Drain(deadline time.Duration) {
	r.mu.RLock()
	hubs := make([]*hub.Hub, 0, len(r.hubs))
	for _, e := range r.hubs {
		hubs = append(hubs, e.hub)
	}
	r.mu.RUnlock()

	for _, h := range hubs {
		h.NotifyShutdown()
	}

	if deadline > 0 {
		time.Sleep(deadline)
	}

	for _, h := range hubs {
		h.CloseAll(collaberrors.KindShutdown)
	}
}

// ForceRemove tears down a Hub immediately regardless of the idle timer, but
// refuses while it still has clients attached.
func (r *Registry) ForceRemove(documentID string) error {
	r.mu.Lock()
	e, ok := r.hubs[documentID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if e.hub.ClientCount() > 0 {
		r.mu.Unlock()
		return collaberrors.ActiveClients(documentID)
	}
	r.stopIdleTimerLocked(e)
	delete(r.hubs, documentID)
	r.mu.Unlock()

	return e.hub.Close()
}

// Summary is the Admin Surface's view of one open Hub.
type Summary struct {
	Clients          int
	AwarenessEntries int
	Size             int
	LastActive       time.Time
}

// List returns a Summary for every currently open Hub, for the Admin
// Surface's document listing.
func (r *Registry) List() map[string]Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Summary, len(r.hubs))
	for id, e := range r.hubs {
		out[id] = Summary{
			Clients:          e.hub.ClientCount(),
			AwarenessEntries: e.hub.AwarenessCount(),
			Size:             e.hub.Size(),
			LastActive:       e.hub.LastActive(),
		}
	}
	return out
}

// Describe returns the Summary for one open Hub, for the Admin Surface's
// single-document lookup.
func (r *Registry) Describe(documentID string) (Summary, bool) {
	r.mu.RLock()
	e, ok := r.hubs[documentID]
	r.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return Summary{
		Clients:          e.hub.ClientCount(),
		AwarenessEntries: e.hub.AwarenessCount(),
		Size:             e.hub.Size(),
		LastActive:       e.hub.LastActive(),
	}, true
}

// Len reports the number of currently open Hubs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hubs)
}

func (r *Registry) stopIdleTimerLocked(e *entry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}
