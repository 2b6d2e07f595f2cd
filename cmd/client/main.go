// Chat TUI client.
//
// Screens
// -------
//   stateLogin        – centered username / password form
//   stateChat          – full-screen chat with scrollable viewport and a
//                        single-line compose input
//   stateHelp          – static overlay listing recognized commands
//   stateDisconnected  – shown once the server closes the connection
//
// Concurrency
// -----------
//   A single goroutine reads Text frames from the WebSocket connection and
//   forwards the decoded Envelope to the envelopes channel.  The Bubbletea
//   event loop consumes one envelope at a time via waitForEnvelope (a
//   tea.Cmd), immediately queuing the next read after each one is handled.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"chat/internal/protocol"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(gray).
			Width(10)

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(cyan).
				Width(10)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	errorStyle  = lipgloss.NewStyle().Foreground(red)
	sysStyle    = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	myNameStyle = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

const helpOverlay = `Commands:
  /name <new name>               rename yourself
  /list                          list connected users
  /DirectMessage <user> <msg>    send a private message
  /help                          show this overlay

Press Esc to return to chat.`

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type envelopeMsg protocol.Envelope
type disconnectedMsg struct{}

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
	stateHelp
	stateDisconnected
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	conn      *websocket.Conn
	envelopes chan protocol.Envelope

	state appState
	me    string

	loginFocus  int
	loginFields [2]textinput.Model // [0]=username [1]=password
	statusMsg   string

	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string

	width, height int
}

func newModel(conn *websocket.Conn, envelopes chan protocol.Envelope) model {
	uf := textinput.New()
	uf.Placeholder = "username"
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	pf := textinput.New()
	pf.Placeholder = "password"
	pf.EchoMode = textinput.EchoPassword
	pf.EchoCharacter = '•'
	pf.CharLimit = 64
	pf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message, or /help for commands…"
	ci.CharLimit = 500

	return model{
		conn:        conn,
		envelopes:   envelopes,
		state:       stateLogin,
		loginFields: [2]textinput.Model{uf, pf},
		chatInput:   ci,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEnvelope(m.envelopes))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case envelopeMsg:
		m = m.handleEnvelope(protocol.Envelope(msg))
		return m, waitForEnvelope(m.envelopes)

	case disconnectedMsg:
		m.state = stateDisconnected
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		case stateHelp:
			return m.handleHelpKey(msg)
		case stateDisconnected:
			if msg.Type == tea.KeyCtrlC {
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

func (m model) handleLoginKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.loginFocus = (m.loginFocus + 1) % 2
		for i := range m.loginFields {
			if i == m.loginFocus {
				m.loginFields[i].Focus()
			} else {
				m.loginFields[i].Blur()
			}
		}
		return m, textinput.Blink

	case tea.KeyEnter:
		user := strings.TrimSpace(m.loginFields[0].Value())
		pass := m.loginFields[1].Value()
		if user == "" || pass == "" {
			m.statusMsg = "username and password are required"
			return m, nil
		}
		sendSystem(m.conn, user+":"+pass)
		m.statusMsg = "Authenticating…"
		return m, nil
	}

	var cmd tea.Cmd
	m.loginFields[m.loginFocus], cmd = m.loginFields[m.loginFocus].Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.conn.Close()
		return m, tea.Quit

	case tea.KeyEnter:
		content := strings.TrimSpace(m.chatInput.Value())
		if content != "" {
			m.sendLine(content)
			m.chatInput.Reset()
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m model) handleHelpKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.conn.Close()
		return m, tea.Quit
	case tea.KeyEsc:
		m.state = stateChat
		m.chatInput.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

// sendLine interprets content as either a "/command args..." invocation or
// a plain chat line, and writes the corresponding Envelope.
func (m *model) sendLine(content string) {
	if strings.HasPrefix(content, "/") {
		fields := strings.Fields(content[1:])
		if len(fields) == 0 {
			return
		}
		name := fields[0]
		args := fields[1:]
		if name == "help" {
			m.state = stateHelp
			return
		}
		sendCommand(m.conn, name, args)
		return
	}
	sendChat(m.conn, content)
}

// ---------------------------------------------------------------------------
// Server envelope handler
// ---------------------------------------------------------------------------

func (m model) handleEnvelope(e protocol.Envelope) model {
	switch {
	case e.ChatMessage != nil:
		name := peerStyle.Render(e.ChatMessage.Sender)
		if e.ChatMessage.Sender == m.me {
			name = myNameStyle.Render(e.ChatMessage.Sender)
		}
		m.appendChat(name + ": " + e.ChatMessage.Content)

	case e.System != nil:
		text := *e.System
		if m.state == stateLogin {
			switch {
			case text == "Authentication successful":
				m.me = strings.TrimSpace(m.loginFields[0].Value())
				m.state = stateChat
				m.chatInput.Focus()
			case strings.HasPrefix(text, "Authentication failed"), strings.HasPrefix(text, "Max login attempts"):
				m.statusMsg = text
			}
			return m
		}
		m.appendChat(sysStyle.Render("⚡ " + text))
	}
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	case stateHelp:
		return m.viewHelp()
	case stateDisconnected:
		return m.viewDisconnected()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	title := titleStyle.Render("  Terminal Chat  ")

	renderField := func(label string, f textinput.Model, focused bool) string {
		lbl := labelStyle.Render(label)
		if focused {
			lbl = focusedLabelStyle.Render(label)
		}
		return lbl + "  " + f.View()
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		renderField("Username", m.loginFields[0], m.loginFocus == 0),
		renderField("Password", m.loginFields[1], m.loginFocus == 1),
		"",
		hintStyle.Render("Tab: switch field   Enter: authenticate   Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" Terminal Chat  ·  %s  ·  /help for commands  ·  Ctrl+C: Quit", m.me))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

func (m model) viewHelp() string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, helpOverlay)
}

func (m model) viewDisconnected() string {
	msg := errorStyle.Render("Disconnected from server.") + "\n\n" + hintStyle.Render("Ctrl+C: quit")
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, msg)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if strings.Contains(m.statusMsg, "Authenticating") {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func waitForEnvelope(ch <-chan protocol.Envelope) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return envelopeMsg(e)
	}
}

func sendEnvelope(conn *websocket.Conn, e protocol.Envelope) {
	data, err := protocol.Encode(e)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func sendSystem(conn *websocket.Conn, msg string) {
	sendEnvelope(conn, protocol.NewSystemMessage(msg))
}

func sendChat(conn *websocket.Conn, content string) {
	sendEnvelope(conn, protocol.NewChatMessage("", content))
}

func sendCommand(conn *websocket.Conn, name string, args []string) {
	sendEnvelope(conn, protocol.NewCommand(name, args))
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "chat server WebSocket URL")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	envelopes := make(chan protocol.Envelope, 64)

	go func() {
		defer close(envelopes)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			envelopes <- env
		}
	}()

	p := tea.NewProgram(
		newModel(conn, envelopes),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
