// Package command implements the Command Dispatcher: the handlers behind
// every Command envelope a session can receive while Active.
package command

import (
	"fmt"
	"strings"

	"chat/internal/broadcast"
	"chat/internal/protocol"
	"chat/internal/registry"
)

// SessionContext is the subset of a session's behavior the dispatcher needs
// to run a command: reading and changing the session's display name, and
// replying on its own outbound queue.
type SessionContext interface {
	Username() string
	SetUsername(string)
	Reply(protocol.Envelope)
}

const helpText = "Commands: name <new name>, list, DirectMessage <recipient> <message>, help"

// Dispatcher resolves a Command envelope's name to a handler.
type Dispatcher struct {
	registry *registry.Registry
	router   *broadcast.Router
}

// New builds a Dispatcher over reg (for "list") and router (for
// "DirectMessage").
func New(reg *registry.Registry, router *broadcast.Router) *Dispatcher {
	return &Dispatcher{registry: reg, router: router}
}

// Dispatch runs the command named name with args against s.
func (d *Dispatcher) Dispatch(s SessionContext, name string, args []string) {
	switch name {
	case "name":
		d.handleName(s, args)
	case "list":
		d.handleList(s)
	case "DirectMessage":
		d.handleDirectMessage(s, args)
	case "help":
		s.Reply(protocol.NewSystemMessage(helpText))
	default:
		s.Reply(protocol.NewSystemMessage("Unknown command. Type /help for a list of commands."))
	}
}

func (d *Dispatcher) handleName(s SessionContext, args []string) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		s.Reply(protocol.NewSystemMessage("Please provide a valid name."))
		return
	}
	newName := args[0]
	s.SetUsername(newName)
	s.Reply(protocol.NewSystemMessage(fmt.Sprintf("Your name is now set to '%s'", newName)))
}

func (d *Dispatcher) handleList(s SessionContext) {
	names := d.registry.SnapshotUsernames()
	s.Reply(protocol.NewSystemMessage("Connected users: " + strings.Join(names, ", ")))
}

func (d *Dispatcher) handleDirectMessage(s SessionContext, args []string) {
	if len(args) < 2 {
		s.Reply(protocol.NewSystemMessage("Usage: DirectMessage <recipient> <message>"))
		return
	}
	recipient := args[0]
	content := strings.Join(args[1:], " ")
	sender := s.Username()

	delivered := d.router.Direct(recipient, protocol.NewSystemMessage(fmt.Sprintf("(Private message from %s): %s", sender, content)))
	if !delivered {
		s.Reply(protocol.NewSystemMessage(fmt.Sprintf("User '%s' not found.", recipient)))
		return
	}
	s.Reply(protocol.NewSystemMessage(fmt.Sprintf("(Private message to %s): %s", recipient, content)))
}
