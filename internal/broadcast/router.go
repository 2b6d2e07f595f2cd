// Package broadcast implements the Broadcast Router: fan-out and direct
// delivery over a snapshot of the Client Registry, never holding the
// registry's lock across a send.
package broadcast

import (
	"log/slog"

	"chat/internal/protocol"
	"chat/internal/registry"
)

// Router fans out envelopes to every registered session, or delivers one
// directly to a named recipient.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New builds a Router over reg, logging slow-consumer teardown decisions
// through logger.
func New(reg *registry.Registry, logger *slog.Logger) *Router {
	return &Router{registry: reg, logger: logger}
}

// FanOut delivers e to every currently registered session. A recipient
// whose outbound queue is full is never blocked on — it is scheduled for
// teardown and the router moves on to the next recipient, preserving R2's
// per-recipient delivery order for everyone else.
func (r *Router) FanOut(e protocol.Envelope) {
	for _, h := range r.registry.SnapshotHandles() {
		if !h.Send(e) {
			r.logger.Warn("dropping slow consumer", "connection_id", h.ID)
			go h.TriggerTeardown()
		}
	}
}

// Direct delivers e to the first session registered under username. It
// returns false if no such session exists; a full outbound queue is
// treated as a slow-consumer teardown exactly like FanOut, but the caller
// is still told the recipient was found.
func (r *Router) Direct(username string, e protocol.Envelope) bool {
	h, ok := r.registry.FindByUsername(username)
	if !ok {
		return false
	}
	if !h.Send(e) {
		r.logger.Warn("dropping slow consumer", "connection_id", h.ID)
		go h.TriggerTeardown()
	}
	return true
}
