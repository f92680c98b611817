package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/igorsilveira/tourwatch/pkg/livechannel"
)

const defaultHistory = 200

var (
	openStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	closedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	sentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	inputStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// StatusMsg carries a fresh channel status snapshot into the program.
type StatusMsg livechannel.Status

// LiveMsg carries one decoded inbound message.
type LiveMsg struct {
	At   time.Time
	Data any
}

type sentMsg struct {
	content string
	err     error
}

type line struct {
	at   time.Time
	role string
	text string
}

type SendFunc func(msg any) error

type Model struct {
	status  livechannel.Status
	lines   []line
	input   string
	sendFn  SendFunc
	width   int
	height  int
	history int
}

func NewModel(sendFn SendFunc) Model {
	return Model{sendFn: sendFn, history: defaultHistory}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if strings.TrimSpace(m.input) == "" {
				return m, nil
			}
			return m.submitInput()
		case "backspace":
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		default:
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
				m.input += string(msg.Runes)
				if msg.Type == tea.KeySpace && len(msg.Runes) == 0 {
					m.input += " "
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StatusMsg:
		m.status = livechannel.Status(msg)

	case LiveMsg:
		m.appendLine(line{at: msg.At, role: "in", text: render(msg.Data)})

	case sentMsg:
		if msg.err != nil {
			m.appendLine(line{at: time.Now(), role: "error", text: msg.err.Error()})
		} else {
			m.appendLine(line{at: time.Now(), role: "out", text: msg.content})
		}
	}

	return m, nil
}

func (m *Model) appendLine(l line) {
	m.lines = append(m.lines, l)
	if over := len(m.lines) - m.history; over > 0 {
		m.lines = m.lines[over:]
	}
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input)
	m.input = ""

	payload := ParseInput(text)
	sendFn := m.sendFn
	return m, func() tea.Msg {
		if sendFn == nil {
			return sentMsg{err: fmt.Errorf("sending is not available")}
		}
		return sentMsg{content: render(payload), err: sendFn(payload)}
	}
}

// ParseInput treats the line as JSON when it parses and otherwise wraps it
// as a text message.
func ParseInput(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return map[string]any{"type": "text", "content": text}
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func stateLabel(s livechannel.State) string {
	label := strings.ToUpper(string(s))
	if label == "" {
		label = "UNKNOWN"
	}
	switch s {
	case livechannel.StateOpen:
		return openStyle.Render(label)
	case livechannel.StateConnecting, livechannel.StateClosing:
		return pendingStyle.Render(label)
	default:
		return closedStyle.Render(label)
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render("tourwatch live (Ctrl+C to quit)  "))
	b.WriteString(stateLabel(m.status.State))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  retries %d/%d", m.status.RetryCount, m.status.MaxRetries)))
	b.WriteString("\n")
	if m.status.LastError != "" {
		b.WriteString(errStyle.Render("last error: " + m.status.LastError))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	visible := m.lines
	if room := m.height - 6; room > 0 && len(visible) > room {
		visible = visible[len(visible)-room:]
	}
	for _, l := range visible {
		b.WriteString(dimStyle.Render(l.at.Format("15:04:05") + " "))
		switch l.role {
		case "out":
			b.WriteString(sentStyle.Render("→ " + l.text))
		case "error":
			b.WriteString(errStyle.Render("! " + l.text))
		default:
			b.WriteString(l.text)
		}
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(inputStyle.Render("> " + m.input))
	b.WriteString(dimStyle.Render("█"))

	return b.String()
}

// NewProgram builds the full-screen watcher. Feed it StatusMsg and LiveMsg
// values with Program.Send from any goroutine.
func NewProgram(sendFn SendFunc) *tea.Program {
	return tea.NewProgram(NewModel(sendFn), tea.WithAltScreen())
}
