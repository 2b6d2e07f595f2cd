// Package history implements the Message History module: a fixed-capacity
// ring buffer of broadcast envelopes, replayed to newly authenticated
// sessions.
package history

import (
	"errors"
	"sync"

	"chat/internal/protocol"
)

// ErrIneligible is returned by Append when the envelope is not a
// ChatMessage or SystemMessage — Command envelopes are never recorded.
var ErrIneligible = errors.New("history: envelope not eligible for history")

// Ring is a mutex-guarded, fixed-capacity ring buffer of envelopes. Once it
// reaches capacity, the oldest entry is evicted on every further append.
type Ring struct {
	mu       sync.Mutex
	buf      []protocol.Envelope
	capacity int
}

// New builds a Ring with the given capacity. A non-positive capacity is
// clamped to 1.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]protocol.Envelope, 0, capacity), capacity: capacity}
}

func eligible(e protocol.Envelope) bool {
	return e.ChatMessage != nil || e.System != nil
}

// Append records e, evicting the oldest entry first if the ring is full.
func (r *Ring) Append(e protocol.Envelope) error {
	if !eligible(e) {
		return ErrIneligible
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) >= r.capacity {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, e)
	return nil
}

// Snapshot returns a point-in-time copy of the buffered envelopes, oldest
// first, safe to iterate without holding the Ring's lock.
func (r *Ring) Snapshot() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Envelope, len(r.buf))
	copy(out, r.buf)
	return out
}

// Len reports how many envelopes are currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
