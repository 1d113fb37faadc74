package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

var ErrRegistryFull = errors.New("too many live widget sessions")

type registryEntry struct {
	session  *chat.Session
	lastSeen time.Time
	// stopWatch ends the upstream subscription, if one is running.
	stopWatch context.CancelFunc
}

// Registry keeps the live widget sessions keyed by backend session id. Idle
// sessions are detached by Sweep.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	idleTTL time.Duration
	max     int
	now     func() time.Time
}

func NewRegistry(idleTTL time.Duration, maxSessions int) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		idleTTL: idleTTL,
		max:     maxSessions,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Get returns the live session for id and marks it as recently used.
func (r *Registry) Get(id string) (*chat.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry.session, true
}

// Put registers session under id. A session already registered under id is
// kept and returned instead, and the new one is detached.
func (r *Registry) Put(id string, session *chat.Session) (*chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		existing.lastSeen = r.now()
		if existing.session != session {
			session.Detach()
		}
		return existing.session, nil
	}
	if r.max > 0 && len(r.entries) >= r.max {
		return nil, ErrRegistryFull
	}
	r.entries[id] = &registryEntry{session: session, lastSeen: r.now()}
	return session, nil
}

// SetWatch records the cancel func of the upstream subscription for id.
func (r *Registry) SetWatch(id string, stop context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	if entry.stopWatch != nil {
		entry.stopWatch()
	}
	entry.stopWatch = stop
	return true
}

// Remove detaches and forgets the session for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		entry.release()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep detaches sessions idle for longer than the TTL, or already closed,
// and returns how many were evicted.
func (r *Registry) Sweep(now time.Time) int {
	var evicted []*registryEntry
	r.mu.Lock()
	for id, entry := range r.entries {
		if now.Sub(entry.lastSeen) >= r.idleTTL || entry.session.State() == chat.StateClosed {
			evicted = append(evicted, entry)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, entry := range evicted {
		entry.release()
	}
	return len(evicted)
}

// Close detaches every session.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, entry := range entries {
		entry.release()
	}
}

// CanSubscribeSession allows websocket subscriptions to live sessions only.
func (r *Registry) CanSubscribeSession(_ context.Context, sessionID string) (bool, error) {
	_, ok := r.Get(sessionID)
	return ok, nil
}

func (e *registryEntry) release() {
	if e.stopWatch != nil {
		e.stopWatch()
	}
	e.session.Detach()
}
