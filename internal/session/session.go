// Package session implements the Session module: the per-connection state
// machine that carries a WebSocket connection through
// AwaitingCredentials -> Active -> Closing -> Closed, coordinating the
// three cooperating tasks (reader, writer, keeper) described by the
// concurrency model.
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat/internal/broadcast"
	"chat/internal/command"
	"chat/internal/credentials"
	"chat/internal/history"
	"chat/internal/protocol"
	"chat/internal/registry"
)

// Frame type constants. These are the RFC 6455 opcodes gorilla/websocket
// uses for its MessageType/PingMessage/PongMessage/CloseMessage constants;
// defining them here keeps this package's Conn interface satisfiable by
// both *websocket.Conn and a test fake without importing gorilla.
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
	PingMessage   = 9
	PongMessage   = 10
)

// Conn is the transport surface a Session needs. *websocket.Conn satisfies
// this directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Deps bundles a Session's collaborators and tuning knobs. Zero-valued
// duration/int fields fall back to the documented defaults.
type Deps struct {
	Registry    *registry.Registry
	History     *history.Ring
	Router      *broadcast.Router
	Credentials *credentials.Store
	Dispatcher  *command.Dispatcher
	Logger      *slog.Logger

	// Shutdown, when non-nil, is closed to tear down every live session as
	// part of server shutdown.
	Shutdown <-chan struct{}

	KeepAliveInterval time.Duration
	PongTimeout       time.Duration
	MaxAuthFailures   int
	OutboundBuffer    int

	// OnChatBroadcast, when non-nil, is invoked after every chat message is
	// fanned out, off the hot path — the audit hook.
	OnChatBroadcast func(username, content string)
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = 30 * time.Second
	}
	if out.PongTimeout <= 0 {
		out.PongTimeout = 10 * time.Second
	}
	if out.MaxAuthFailures <= 0 {
		out.MaxAuthFailures = 5
	}
	if out.OutboundBuffer <= 0 {
		out.OutboundBuffer = 256
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Session is a single connection's state machine.
type Session struct {
	id   string
	conn Conn
	deps Deps

	outbound     chan protocol.Envelope
	pingOut      chan struct{}
	pongIn       chan struct{}
	done         chan struct{}
	writerExited chan struct{}

	usernameMu sync.RWMutex
	username   string

	handle *registry.Handle

	disconnectOnce sync.Once
}

// New builds a Session for id over conn, wiring deps (applying documented
// defaults for any zero-valued tuning knob).
func New(id string, conn Conn, deps Deps) *Session {
	resolved := deps.withDefaults()
	return &Session{
		id:           id,
		conn:         conn,
		deps:         resolved,
		outbound:     make(chan protocol.Envelope, resolved.OutboundBuffer),
		pingOut:      make(chan struct{}, 1),
		pongIn:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		writerExited: make(chan struct{}),
	}
}

// ID returns the session's opaque connection id.
func (s *Session) ID() string { return s.id }

// Username returns the session's current display name, defaulting to
// "Anonymous" until one has been set.
func (s *Session) Username() string {
	s.usernameMu.RLock()
	defer s.usernameMu.RUnlock()
	if s.username == "" {
		return "Anonymous"
	}
	return s.username
}

// SetUsername updates the session's display name and, once Active, the
// registry handle's copy of it.
func (s *Session) SetUsername(name string) {
	s.usernameMu.Lock()
	s.username = name
	s.usernameMu.Unlock()
	if s.handle != nil {
		s.handle.SetUsername(name)
	}
}

// Reply enqueues e onto the session's own outbound queue without blocking.
// A full queue drops the reply rather than stall the caller.
func (s *Session) Reply(e protocol.Envelope) {
	select {
	case s.outbound <- e:
	default:
		s.deps.Logger.Debug("reply dropped: outbound full", "connection_id", s.id)
	}
}

// Run drives the session through its full lifecycle and blocks until
// teardown completes. It is safe to call exactly once per Session.
func (s *Session) Run() {
	go s.writeLoop()
	if s.deps.Shutdown != nil {
		go func() {
			select {
			case <-s.deps.Shutdown:
				s.teardown()
			case <-s.done:
			}
		}()
	}

	s.conn.SetPongHandler(func(string) error {
		select {
		case s.pongIn <- struct{}{}:
		default:
		}
		return nil
	})

	s.Reply(protocol.NewSystemMessage(`Welcome! Send "<username>:<password>" to authenticate.`))

	if !s.authenticate() {
		s.teardown()
		return
	}

	go s.keepAlive()
	go s.readActive()

	<-s.done
	// Whichever task started teardown, this call returns only once that
	// teardown has finished (sync.Once blocks concurrent callers).
	s.teardown()
}

// authenticate runs the AwaitingCredentials state: reading frames directly
// (the handshake is a simple synchronous request/reply, no Active-state
// command dispatch applies yet) until a SystemMessage payload of the form
// "username:password" verifies, or the failure budget is exhausted.
func (s *Session) authenticate() bool {
	failures := 0
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deps.Logger.Debug("handshake read error", "connection_id", s.id, "error", err)
			return false
		}
		if mt != TextMessage {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.deps.Logger.Debug("malformed handshake frame", "connection_id", s.id, "error", err)
			continue
		}
		if env.System == nil {
			continue
		}

		username, password, ok := parseCredentials(*env.System)
		verified := ok && s.deps.Credentials.Verify(username, password)
		if verified {
			s.SetUsername(username)
			s.Reply(protocol.NewSystemMessage("Authentication successful"))
			s.registerActive()
			return true
		}

		failures++
		remaining := s.deps.MaxAuthFailures - failures
		if remaining < 0 {
			remaining = 0
		}
		s.deps.Logger.Info("authentication failed", "connection_id", s.id, "attempts_remaining", remaining)
		s.Reply(protocol.NewSystemMessage(fmt.Sprintf("Authentication failed. %d attempts remaining.", remaining)))
		if failures >= s.deps.MaxAuthFailures {
			s.Reply(protocol.NewSystemMessage("Max login attempts reached. Connection closed."))
			return false
		}
	}
}

// parseCredentials splits "username:password" on the first colon. Both
// halves must be non-empty.
func parseCredentials(payload string) (username, password string, ok bool) {
	idx := strings.IndexByte(payload, ':')
	if idx < 0 {
		return "", "", false
	}
	username, password = payload[:idx], payload[idx+1:]
	if username == "" || password == "" {
		return "", "", false
	}
	return username, password, true
}

// registerActive inserts this session's handle into the registry and
// replays message history, entering the Active state.
func (s *Session) registerActive() {
	s.handle = registry.NewHandle(s.id, s.outbound, s.teardown)
	s.handle.SetUsername(s.Username())
	s.deps.Registry.Insert(s.id, s.handle)
	s.deps.Logger.Info("session authenticated", "connection_id", s.id, "username", s.Username(), "online", s.deps.Registry.Len())

	for _, e := range s.deps.History.Snapshot() {
		s.Reply(e)
	}
}

// writeLoop is the Writer task: the sole goroutine allowed to call
// conn.WriteMessage, draining the outbound queue and keeper-triggered
// pings in FIFO arrival order. It closes writerExited on every exit path,
// after draining whatever replies are still buffered on outbound — since
// Go's select picks uniformly among ready cases, done being closed while
// outbound is non-empty must not let queued replies (e.g. the handshake's
// final lockout SystemMessage) go unwritten.
func (s *Session) writeLoop() {
	defer close(s.writerExited)
	for {
		select {
		case e := <-s.outbound:
			data, err := protocol.Encode(e)
			if err != nil {
				s.deps.Logger.Debug("encode failed, dropping reply", "connection_id", s.id, "error", err)
				continue
			}
			if err := s.conn.WriteMessage(TextMessage, data); err != nil {
				s.deps.Logger.Debug("write error", "connection_id", s.id, "error", err)
				go s.teardown()
				return
			}
		case <-s.pingOut:
			if err := s.conn.WriteMessage(PingMessage, nil); err != nil {
				s.deps.Logger.Debug("ping write error", "connection_id", s.id, "error", err)
				go s.teardown()
				return
			}
		case <-s.done:
			s.drainOutbound()
			return
		}
	}
}

// drainOutbound flushes whatever is already buffered on outbound without
// blocking, so a teardown racing the done signal never silently drops a
// reply that was enqueued moments before.
func (s *Session) drainOutbound() {
	for {
		select {
		case e := <-s.outbound:
			data, err := protocol.Encode(e)
			if err != nil {
				s.deps.Logger.Debug("encode failed, dropping reply", "connection_id", s.id, "error", err)
				continue
			}
			if err := s.conn.WriteMessage(TextMessage, data); err != nil {
				s.deps.Logger.Debug("write error during drain", "connection_id", s.id, "error", err)
				return
			}
		default:
			return
		}
	}
}

// keepAlive is the Keeper task: once Active, it probes liveness on
// KeepAliveInterval and tears the session down if no Pong arrives within
// PongTimeout.
func (s *Session) keepAlive() {
	ticker := time.NewTicker(s.deps.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case s.pingOut <- struct{}{}:
			case <-s.done:
				return
			}
			select {
			case <-s.pongIn:
			case <-time.After(s.deps.PongTimeout):
				s.deps.Logger.Warn("keep-alive timeout", "connection_id", s.id, "username", s.Username())
				s.teardown()
				return
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// readActive is the Reader task for the Active state: it decodes every
// Text frame into an Envelope and dispatches it, tolerating malformed
// frames by logging and continuing rather than disconnecting.
func (s *Session) readActive() {
	defer s.teardown()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deps.Logger.Debug("read error", "connection_id", s.id, "username", s.Username(), "error", err)
			return
		}
		if mt != TextMessage {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.deps.Logger.Debug("malformed active frame", "connection_id", s.id, "error", err)
			continue
		}
		s.handleEnvelope(env)
	}
}

func (s *Session) handleEnvelope(env protocol.Envelope) {
	switch {
	case env.ChatMessage != nil:
		out := protocol.NewChatMessage(s.Username(), env.ChatMessage.Content)
		if err := s.deps.History.Append(out); err != nil {
			s.deps.Logger.Debug("history append skipped", "connection_id", s.id, "error", err)
		}
		s.deps.Router.FanOut(out)
		if s.handle != nil {
			s.handle.IncMessageCount()
		}
		if s.deps.OnChatBroadcast != nil {
			s.deps.OnChatBroadcast(s.Username(), env.ChatMessage.Content)
		}
	case env.Command != nil:
		s.deps.Dispatcher.Dispatch(s, env.Command.Name, env.Command.Args)
	case env.System != nil:
		s.deps.Logger.Debug("system message discarded in active state", "connection_id", s.id)
	}
}

// teardown runs the session's single-shot disconnect sequence: signal the
// reader/writer/keeper tasks to stop and wait for the writer to flush, then
// (for an Active session) remove from the registry, record and announce the
// departure, and finally close the transport.
func (s *Session) teardown() {
	s.disconnectOnce.Do(func() {
		close(s.done)
		<-s.writerExited // let the writer drain any already-queued replies first

		name := s.id
		wasActive := s.handle != nil
		if wasActive {
			s.deps.Registry.Remove(s.id)
			name = s.Username()
		}

		if wasActive {
			departure := protocol.NewSystemMessage(fmt.Sprintf("%s has disconnected.", name))
			if err := s.deps.History.Append(departure); err != nil {
				s.deps.Logger.Debug("history append skipped", "connection_id", s.id, "error", err)
			}
			s.deps.Router.FanOut(departure)
		}

		if err := s.conn.Close(); err != nil {
			s.deps.Logger.Debug("close error", "connection_id", s.id, "error", err)
		}
		s.deps.Logger.Info("session closed", "connection_id", s.id, "username", name)
	})
}
