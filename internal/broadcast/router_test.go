package broadcast

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"chat/internal/protocol"
	"chat/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOutDeliversToAllRecipients(t *testing.T) {
	reg := registry.New()
	chA := make(chan protocol.Envelope, 4)
	chB := make(chan protocol.Envelope, 4)
	reg.Insert("a", registry.NewHandle("a", chA, nil))
	reg.Insert("b", registry.NewHandle("b", chB, nil))

	r := New(reg, silentLogger())
	r.FanOut(protocol.NewSystemMessage("hello"))

	select {
	case e := <-chA:
		assert.Equal(t, "hello", *e.System)
	default:
		t.Fatal("expected message on chA")
	}
	select {
	case e := <-chB:
		assert.Equal(t, "hello", *e.System)
	default:
		t.Fatal("expected message on chB")
	}
}

func TestFanOutSchedulesTeardownForSlowConsumer(t *testing.T) {
	reg := registry.New()
	full := make(chan protocol.Envelope, 1)
	full <- protocol.NewSystemMessage("already queued")

	torn := make(chan struct{}, 1)
	reg.Insert("slow", registry.NewHandle("slow", full, func() { torn <- struct{}{} }))

	r := New(reg, silentLogger())
	r.FanOut(protocol.NewSystemMessage("dropped"))

	select {
	case <-torn:
	case <-time.After(time.Second):
		t.Fatal("expected teardown to be triggered for slow consumer")
	}
}

func TestDirectReturnsFalseWhenRecipientMissing(t *testing.T) {
	reg := registry.New()
	r := New(reg, silentLogger())
	ok := r.Direct("nobody", protocol.NewSystemMessage("hi"))
	require.False(t, ok)
}

func TestDirectDeliversToNamedRecipient(t *testing.T) {
	reg := registry.New()
	ch := make(chan protocol.Envelope, 4)
	h := registry.NewHandle("conn-1", ch, nil)
	h.SetUsername("bob")
	reg.Insert("conn-1", h)

	r := New(reg, silentLogger())
	ok := r.Direct("bob", protocol.NewSystemMessage("private"))
	require.True(t, ok)

	e := <-ch
	assert.Equal(t, "private", *e.System)
}
