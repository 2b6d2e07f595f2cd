package session

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"chat/internal/broadcast"
	"chat/internal/command"
	"chat/internal/credentials"
	"chat/internal/history"
	"chat/internal/protocol"
	"chat/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn: inbound frames are fed via push, outbound
// frames (the session's writes) land on sent for the test to inspect.
type fakeConn struct {
	mu          sync.Mutex
	inbox       chan []byte
	closed      bool
	sent        chan []byte
	pings       chan struct{}
	pongHandler func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []byte, 32),
		sent:  make(chan []byte, 32),
		pings: make(chan struct{}, 32),
	}
}

func (c *fakeConn) push(data []byte) { c.inbox <- data }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbox
	if !ok {
		return 0, nil, errors.New("fakeConn: closed")
	}
	return TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fakeConn: write on closed connection")
	}
	switch messageType {
	case TextMessage:
		c.sent <- data
	case PingMessage:
		c.pings <- struct{}{}
	}
	return nil
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

// deliverPong simulates a transport-level Pong arriving, invoking whatever
// handler the Session registered via SetPongHandler.
func (c *fakeConn) deliverPong() {
	c.mu.Lock()
	h := c.pongHandler
	c.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, conn *fakeConn) (*Session, *registry.Registry, *broadcast.Router) {
	return newTestSessionWithKeepAlive(t, conn, time.Hour, time.Second)
}

func newTestSessionWithKeepAlive(t *testing.T, conn *fakeConn, keepAliveInterval, pongTimeout time.Duration) (*Session, *registry.Registry, *broadcast.Router) {
	reg := registry.New()
	router := broadcast.New(reg, testLogger())
	hist := history.New(10)
	creds := credentials.New(map[string]string{"alice": "wonderland", "bob": "xyz"})
	dispatcher := command.New(reg, router)

	s := New("conn-1", conn, Deps{
		Registry:          reg,
		History:           hist,
		Router:            router,
		Credentials:       creds,
		Dispatcher:        dispatcher,
		Logger:            testLogger(),
		KeepAliveInterval: keepAliveInterval,
		PongTimeout:       pongTimeout,
		MaxAuthFailures:   5,
		OutboundBuffer:    32,
	})
	return s, reg, router
}

func waitForPing(t *testing.T, conn *fakeConn) {
	select {
	case <-conn.pings:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for keep-alive ping")
	}
}

func sendEnvelope(t *testing.T, conn *fakeConn, e protocol.Envelope) {
	data, err := protocol.Encode(e)
	require.NoError(t, err)
	conn.push(data)
}

func nextReply(t *testing.T, conn *fakeConn) protocol.Envelope {
	select {
	case data := <-conn.sent:
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return protocol.Envelope{}
	}
}

func TestAuthenticationSuccess(t *testing.T) {
	conn := newFakeConn()
	s, reg, _ := newTestSession(t, conn)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	greeting := nextReply(t, conn)
	require.NotNil(t, greeting.System)

	sendEnvelope(t, conn, protocol.NewSystemMessage("alice:wonderland"))
	ok := nextReply(t, conn)
	assert.Equal(t, "Authentication successful", *ok.System)

	_, found := reg.Get("conn-1")
	assert.True(t, found)

	conn.Close()
	<-done
}

func TestAuthenticationFailureCountdownAndLockout(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := newTestSession(t, conn)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	nextReply(t, conn) // greeting

	for i := 0; i < 4; i++ {
		sendEnvelope(t, conn, protocol.NewSystemMessage("alice:wrong"))
		reply := nextReply(t, conn)
		expected := 4 - i
		assert.Equal(t, "Authentication failed. "+strconv.Itoa(expected)+" attempts remaining.", *reply.System)
	}

	sendEnvelope(t, conn, protocol.NewSystemMessage("alice:wrong"))
	last := nextReply(t, conn)
	assert.Equal(t, "Authentication failed. 0 attempts remaining.", *last.System)

	final := nextReply(t, conn)
	assert.Equal(t, "Max login attempts reached. Connection closed.", *final.System)

	<-done
}

func TestChatMessageBroadcastsAndRecordsHistory(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := newTestSession(t, conn)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	nextReply(t, conn) // greeting
	sendEnvelope(t, conn, protocol.NewSystemMessage("alice:wonderland"))
	nextReply(t, conn) // auth ok

	sendEnvelope(t, conn, protocol.NewChatMessage("someone-else", "hello there"))
	chat := nextReply(t, conn)
	require.NotNil(t, chat.ChatMessage)
	assert.Equal(t, "alice", chat.ChatMessage.Sender)
	assert.Equal(t, "hello there", chat.ChatMessage.Content)

	conn.Close()
	<-done
}

func TestDisconnectAnnouncementOnTeardown(t *testing.T) {
	connA := newFakeConn()
	sA, _, _ := newTestSession(t, connA)

	connB := newFakeConn()
	sB := New("conn-2", connB, sA.deps)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { sA.Run(); close(doneA) }()
	go func() { sB.Run(); close(doneB) }()

	nextReply(t, connA)
	sendEnvelope(t, connA, protocol.NewSystemMessage("alice:wonderland"))
	nextReply(t, connA)

	nextReply(t, connB)
	sendEnvelope(t, connB, protocol.NewSystemMessage("bob:xyz"))
	nextReply(t, connB)

	connA.Close()
	<-doneA

	announcement := nextReply(t, connB)
	require.NotNil(t, announcement.System)
	assert.Equal(t, "alice has disconnected.", *announcement.System)

	connB.Close()
	<-doneB
}

func TestKeepAliveTimeoutTearsDownSessionAndAnnouncesDisconnect(t *testing.T) {
	connA := newFakeConn()
	sA, reg, _ := newTestSessionWithKeepAlive(t, connA, 20*time.Millisecond, 20*time.Millisecond)

	connB := newFakeConn()
	bDeps := sA.deps
	bDeps.KeepAliveInterval = time.Hour // bob must not race his own timeout
	bDeps.PongTimeout = time.Second
	sB := New("conn-2", connB, bDeps)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { sA.Run(); close(doneA) }()
	go func() { sB.Run(); close(doneB) }()

	nextReply(t, connA) // greeting
	sendEnvelope(t, connA, protocol.NewSystemMessage("alice:wonderland"))
	nextReply(t, connA) // auth ok

	nextReply(t, connB) // greeting
	sendEnvelope(t, connB, protocol.NewSystemMessage("bob:xyz"))
	nextReply(t, connB) // auth ok

	waitForPing(t, connA) // Keeper probes liveness; the fake never replies with a Pong

	select {
	case <-doneA:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down after a missed Pong")
	}

	_, found := reg.Get("conn-1")
	assert.False(t, found, "session should have been removed from the registry on keep-alive timeout")

	announcement := nextReply(t, connB)
	require.NotNil(t, announcement.System)
	assert.Equal(t, "alice has disconnected.", *announcement.System)

	connB.Close()
	<-doneB
}

func TestKeepAliveDeliveredPongKeepsSessionAlive(t *testing.T) {
	conn := newFakeConn()
	s, reg, _ := newTestSessionWithKeepAlive(t, conn, 20*time.Millisecond, 200*time.Millisecond)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	nextReply(t, conn) // greeting
	sendEnvelope(t, conn, protocol.NewSystemMessage("alice:wonderland"))
	nextReply(t, conn) // auth ok

	for i := 0; i < 3; i++ {
		waitForPing(t, conn)
		conn.deliverPong()
	}

	_, found := reg.Get("conn-1")
	assert.True(t, found, "session answering every Pong should remain registered")

	select {
	case <-done:
		t.Fatal("session should not have torn down while replying to every keep-alive probe")
	default:
	}

	conn.Close()
	<-done
}
