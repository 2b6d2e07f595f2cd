// Package registry implements the Client Registry: a concurrent map of
// active session handles keyed by connection id, with the snapshot-before-
// send discipline the broadcast router depends on.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"chat/internal/protocol"
)

// Handle is a session's entry in the registry. It exposes just enough for
// the broadcast router and command dispatcher to act on a session without
// reaching into the session's internals.
type Handle struct {
	ID          string
	ConnectedAt time.Time

	mu       sync.RWMutex
	username string

	outbound     chan protocol.Envelope
	messageCount atomic.Int64
	teardown     func()
}

// NewHandle builds a Handle backed by outbound (the session's writer queue)
// and teardown (the session's idempotent disconnect routine).
func NewHandle(id string, outbound chan protocol.Envelope, teardown func()) *Handle {
	return &Handle{
		ID:          id,
		ConnectedAt: time.Now(),
		outbound:    outbound,
		teardown:    teardown,
	}
}

// Username returns the handle's current display name.
func (h *Handle) Username() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.username
}

// SetUsername updates the handle's display name.
func (h *Handle) SetUsername(name string) {
	h.mu.Lock()
	h.username = name
	h.mu.Unlock()
}

// Send attempts a non-blocking enqueue onto the handle's outbound queue.
// It returns false if the queue is full or already closed, signaling a
// slow or dead consumer to the caller.
func (h *Handle) Send(e protocol.Envelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case h.outbound <- e:
		return true
	default:
		return false
	}
}

// TriggerTeardown asks the owning session to disconnect. Safe to call from
// any goroutine, any number of times — the session's own disconnect gate
// makes it idempotent.
func (h *Handle) TriggerTeardown() {
	if h.teardown != nil {
		h.teardown()
	}
}

// IncMessageCount bumps the handle's lifetime chat-message count by one.
func (h *Handle) IncMessageCount() int64 {
	return h.messageCount.Add(1)
}

// MessageCount returns the handle's lifetime chat-message count.
func (h *Handle) MessageCount() int64 {
	return h.messageCount.Load()
}

// Registry is the concurrent map of active handles.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Handle
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Handle)}
}

// Insert adds h under id, replacing any prior handle at that id.
func (r *Registry) Insert(id string, h *Handle) {
	r.mu.Lock()
	r.clients[id] = h
	r.mu.Unlock()
}

// Remove deletes the handle at id, returning it and whether it was present.
func (r *Registry) Remove(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	return h, ok
}

// Get returns the handle at id, if present.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.clients[id]
	return h, ok
}

// FindByUsername returns the first handle whose username matches name.
// Iteration order over the underlying map is unspecified, so "first" means
// whichever handle the map happens to yield first — uniqueness of
// usernames is not enforced, matching the reference default.
func (r *Registry) FindByUsername(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.clients {
		if h.Username() == name {
			return h, true
		}
	}
	return nil, false
}

// SnapshotHandles returns a point-in-time copy of all registered handles,
// safe to iterate and send to without holding the registry's lock.
func (r *Registry) SnapshotHandles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.clients))
	for _, h := range r.clients {
		out = append(out, h)
	}
	return out
}

// SnapshotUsernames returns a point-in-time copy of all registered
// usernames.
func (r *Registry) SnapshotUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for _, h := range r.clients {
		out = append(out, h.Username())
	}
	return out
}

// Len reports how many handles are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
