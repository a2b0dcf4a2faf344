package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-bridge/internal/app"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// transcriptChangedMsg arrives whenever the client's writer goroutine
// applied a mutation; the model re-snapshots on receipt.
type transcriptChangedMsg struct{}

// sessionsMsg carries the result of a /sessions listing request.
type sessionsMsg struct {
	sessions []app.SessionInfo
	err      error
}

type Model struct {
	client *app.Client

	width  int
	height int
	ready  bool

	messages []app.Message
	task     app.TaskStatus

	input  textarea.Model
	chatVP viewport.Model

	status string
}

func New(client *app.Client) *Model {
	ta := textarea.New()
	ta.Placeholder = "Message, /command, or !n to press button n of the last keyboard"
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetHeight(1)
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	return &Model{client: client, input: ta}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitUpdate())
}

// waitUpdate blocks on the client's coalesced change signal.
func (m *Model) waitUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.client.Updates()
		return transcriptChangedMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatH := m.height - 4
		if chatH < 3 {
			chatH = 3
		}
		if !m.ready {
			m.chatVP = viewport.New(m.width, chatH)
			m.ready = true
		} else {
			m.chatVP.Width = m.width
			m.chatVP.Height = chatH
		}
		m.input.SetWidth(m.width - 2)
		m.refresh()
		return m, nil

	case transcriptChangedMsg:
		m.refresh()
		return m, m.waitUpdate()

	case sessionsMsg:
		if msg.err != nil {
			m.status = "listing sessions: " + msg.err.Error()
		} else {
			m.status = formatSessions(msg.sessions)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlL:
			m.client.Clear()
			return m, nil

		case tea.KeyCtrlR:
			m.client.Disconnect()
			m.client.Connect()
			m.status = "reconnecting by request"
			return m, nil

		case tea.KeyPgUp:
			m.client.LoadOlder()
			return m, nil

		case tea.KeyEnter:
			return m, m.onEnter()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) onEnter() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.status = ""

	// !n presses button n of the most recent message with a keyboard.
	if strings.HasPrefix(text, "!") {
		if n, err := strconv.Atoi(text[1:]); err == nil {
			m.pressButton(n)
			return nil
		}
	}

	// /sessions is answered locally from the HTTP listing; it never
	// goes out as a message.
	if text == "/sessions" {
		return m.fetchSessions()
	}

	if isSessionCommand(text) && !m.client.Ready() {
		m.status = "a session change is already in flight"
		return nil
	}
	m.client.SendText(text)
	return nil
}

func (m *Model) pressButton(n int) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if len(msg.Buttons) == 0 {
			continue
		}
		idx := 1
		for _, row := range msg.Buttons {
			for _, b := range row {
				if idx == n {
					m.client.PressButton(b.Action, msg.ID)
					m.status = fmt.Sprintf("pressed %q", b.Label)
					return
				}
				idx++
			}
		}
		m.status = fmt.Sprintf("no button %d on the last keyboard", n)
		return
	}
	m.status = "no buttons to press"
}

func (m *Model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions, err := m.client.ListSessions(ctx)
		return sessionsMsg{sessions: sessions, err: err}
	}
}

// formatSessions renders the listing for the status area: the active
// session is starred, busy ones are marked.
func formatSessions(sessions []app.SessionInfo) string {
	if len(sessions) == 0 {
		return "no sessions"
	}
	parts := make([]string, 0, len(sessions))
	for _, s := range sessions {
		name := s.Name
		if s.IsActive {
			name = "*" + name
		}
		if s.Busy {
			name += " (busy)"
		}
		parts = append(parts, name)
	}
	return "sessions: " + strings.Join(parts, "  ")
}

func isSessionCommand(text string) bool {
	for _, cmd := range []string{"/new", "/switch", "/resume", "/end", "/delete", "/session"} {
		if text == cmd || strings.HasPrefix(text, cmd+" ") {
			return true
		}
	}
	return false
}

func (m *Model) refresh() {
	m.messages, m.task = m.client.Snapshot()
	if !m.ready {
		return
	}
	atBottom := m.chatVP.AtBottom()
	m.chatVP.SetContent(m.renderTranscript())
	if atBottom {
		m.chatVP.GotoBottom()
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatVP.View(),
		m.statusLine(),
		inputStyle.Width(m.width).Render(m.input.View()),
	)
}

func (m *Model) statusLine() string {
	state := m.client.ConnState().String()
	parts := []string{stateStyle(m.client.ConnState()).Render(state)}
	if m.task.Active {
		parts = append(parts, taskStyle.Render(fmt.Sprintf("%s %s step %d", m.task.Mode, m.task.Phase, m.task.Step)))
	}
	if !m.client.Ready() {
		parts = append(parts, taskStyle.Render("session change in flight"))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	return statusBarStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg app.Message) string {
	label := botLabel
	if msg.Origin == app.OriginUser {
		label = userLabel
		if msg.ID < 0 {
			label = pendingLabel
		}
	}
	out := label + " " + msg.Text
	if msg.Session != "" {
		out += "  " + sessionStyle.Render("["+msg.Session+"]")
	}
	if len(msg.Buttons) > 0 {
		idx := 1
		var rows []string
		for _, row := range msg.Buttons {
			var cells []string
			for _, btn := range row {
				cells = append(cells, buttonStyle.Render(fmt.Sprintf("[%d] %s", idx, btn.Label)))
				idx++
			}
			rows = append(rows, strings.Join(cells, " "))
		}
		out += "\n" + strings.Join(rows, "\n")
	}
	return out
}
