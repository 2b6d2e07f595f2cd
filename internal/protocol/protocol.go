// Package protocol defines the wire envelope exchanged between the chat
// server and its clients. Every Text frame carries exactly one JSON-encoded
// Envelope; the three variants below are the only ones the core understands.
package protocol

import (
	"encoding/json"
	"errors"
)

// ErrMalformedFrame is returned by Decode when the input does not parse into
// exactly one of the three known Envelope variants.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// ChatMessage carries a broadcast chat line. Sender is always rewritten by
// the session to the authenticated username before it reaches history or
// the broadcast router; a client-supplied sender is never trusted.
type ChatMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Command carries an interactive command invocation, e.g. {"name": "list"}.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Envelope is the tagged-union wire message. Exactly one of ChatMessage,
// Command, or System is non-nil on any value produced by this package.
type Envelope struct {
	ChatMessage *ChatMessage
	Command     *Command
	System      *string
}

// NewChatMessage builds a ChatMessage envelope.
func NewChatMessage(sender, content string) Envelope {
	return Envelope{ChatMessage: &ChatMessage{Sender: sender, Content: content}}
}

// NewCommand builds a Command envelope.
func NewCommand(name string, args []string) Envelope {
	return Envelope{Command: &Command{Name: name, Args: args}}
}

// NewSystemMessage builds a SystemMessage envelope.
func NewSystemMessage(msg string) Envelope {
	return Envelope{System: &msg}
}

// IsZero reports whether e carries none of the three variants.
func (e Envelope) IsZero() bool {
	return e.ChatMessage == nil && e.Command == nil && e.System == nil
}

// MarshalJSON renders e as one of:
//
//	{"ChatMessage":{"sender":"<s>","content":"<c>"}}
//	{"Command":{"name":"<n>","args":["<a1>", ...]}}
//	{"SystemMessage":"<s>"}
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.ChatMessage != nil:
		return json.Marshal(struct {
			ChatMessage *ChatMessage `json:"ChatMessage"`
		}{e.ChatMessage})
	case e.Command != nil:
		return json.Marshal(struct {
			Command *Command `json:"Command"`
		}{e.Command})
	case e.System != nil:
		return json.Marshal(struct {
			SystemMessage *string `json:"SystemMessage"`
		}{e.System})
	default:
		return nil, ErrMalformedFrame
	}
}

// UnmarshalJSON accepts only an object with exactly one of the three known
// keys. Anything else — zero keys, more than one key, an unknown key, or a
// value of the wrong shape — is ErrMalformedFrame.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrMalformedFrame
	}
	if len(raw) != 1 {
		return ErrMalformedFrame
	}

	*e = Envelope{}
	for key, val := range raw {
		switch key {
		case "ChatMessage":
			var cm ChatMessage
			if err := json.Unmarshal(val, &cm); err != nil {
				return ErrMalformedFrame
			}
			e.ChatMessage = &cm
		case "Command":
			var cmd Command
			if err := json.Unmarshal(val, &cmd); err != nil {
				return ErrMalformedFrame
			}
			if cmd.Args == nil {
				cmd.Args = []string{}
			}
			e.Command = &cmd
		case "SystemMessage":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return ErrMalformedFrame
			}
			e.System = &s
		default:
			return ErrMalformedFrame
		}
	}
	return nil
}

// Encode marshals e to its wire representation.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses data into an Envelope, returning ErrMalformedFrame on any
// input that is not exactly one of the three known variants.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, ErrMalformedFrame
	}
	if e.IsZero() {
		return Envelope{}, ErrMalformedFrame
	}
	return e, nil
}
