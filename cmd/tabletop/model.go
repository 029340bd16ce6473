package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tablehub/tablehub/internal/domain/adventure"
	"github.com/tablehub/tablehub/internal/domain/protocol"
)

type frameMsg protocol.Frame

type connLostMsg struct{ err error }

type sendFunc func(protocol.Inbound) error

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd166")).Padding(0, 1)
	dmStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))
	playerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b8fa3")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff71ce")).Bold(true)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b8fa3"))
	panelBorders = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3b3f51"))
)

const helpText = "/create [topic] · /join CODE · /rejoin CODE ID · /start · /leave · /solo [scenario] · /resume ID · /allow · /deny · /quit"

type model struct {
	cfg  clientConfig
	send sendFunc

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	lines     []string
	partial   string
	status    protocol.Status
	code      string
	self      string
	host      bool
	sessionID string
	pending   []protocol.Frame
	width     int
	height    int
}

func newModel(cfg clientConfig, send sendFunc) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Say something, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = dmStyle

	return model{
		cfg:      cfg,
		send:     send,
		input:    input,
		timeline: viewport.New(0, 0),
		spinner:  sp,
		status:   protocol.StatusIdle,
		lines:    []string{systemStyle.Render(helpText)},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = msg.Width - 2
		m.timeline.Height = max(msg.Height-6, 1)
		m.input.Width = msg.Width - 4
		m.refresh()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				break
			}
			if cmd := m.submit(line); cmd != nil {
				return m, cmd
			}
		}
	case frameMsg:
		m.apply(protocol.Frame(msg))
	case connLostMsg:
		m.status = protocol.StatusDisconnected
		m.appendLine(errorStyle.Render("connection lost: " + msg.err.Error()))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if _, ok := msg.(tea.MouseMsg); ok {
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit turns one input line into an outbound frame.
func (m *model) submit(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		m.emit(protocol.Inbound{Type: protocol.TypeUserMessage, Text: line})
		return nil
	}
	fields := strings.Fields(line)
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch fields[0] {
	case "/quit":
		return tea.Quit
	case "/help":
		m.appendLine(systemStyle.Render(helpText))
	case "/create":
		m.emit(protocol.Inbound{Type: protocol.TypeCreateGame, Name: m.cfg.Name, CharacterID: m.cfg.Character, ScenarioID: arg})
	case "/join":
		m.emit(protocol.Inbound{Type: protocol.TypeJoinGame, Code: arg, Name: m.cfg.Name, CharacterID: m.cfg.Character})
	case "/rejoin":
		if len(fields) != 3 {
			m.appendLine(errorStyle.Render("usage: /rejoin CODE PARTICIPANT_ID"))
			break
		}
		m.emit(protocol.Inbound{Type: protocol.TypeRejoinGame, Code: fields[1], ParticipantID: fields[2]})
	case "/start":
		m.emit(protocol.Inbound{Type: protocol.TypeStartGame})
	case "/leave":
		m.emit(protocol.Inbound{Type: protocol.TypeLeaveGame})
	case "/solo":
		m.emit(protocol.Inbound{Type: protocol.TypeSessionStart, CharacterID: m.cfg.Character, ScenarioID: arg})
	case "/resume":
		m.emit(protocol.Inbound{Type: protocol.TypeSessionResume, SessionID: arg, CharacterID: m.cfg.Character})
	case "/allow", "/deny":
		if len(m.pending) == 0 {
			m.appendLine(systemStyle.Render("nothing is waiting for approval"))
			break
		}
		req := m.pending[0]
		m.pending = m.pending[1:]
		m.emit(protocol.Inbound{Type: protocol.TypePermissionResponse, Token: req.Token, Allowed: fields[0] == "/allow"})
	default:
		m.appendLine(errorStyle.Render("unknown command " + fields[0]))
	}
	return nil
}

func (m *model) emit(in protocol.Inbound) {
	if err := m.send(in); err != nil {
		m.appendLine(errorStyle.Render("send failed: " + err.Error()))
	}
}

// apply renders one server frame into the timeline.
func (m *model) apply(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeSessionStatus:
		m.status = f.Status
	case protocol.TypeDMPartial:
		m.partial += f.Text
		m.refresh()
	case protocol.TypeDMResponse:
		m.partial = ""
		m.appendLine(dmStyle.Render(f.Text))
	case protocol.TypePlayerMessage:
		name := f.ParticipantID
		if f.Player != nil {
			name = f.Player.Name
		}
		m.appendLine(playerStyle.Render(name+": ") + f.Text)
	case protocol.TypePermissionRequest:
		m.pending = append(m.pending, f)
		m.appendLine(promptStyle.Render(fmt.Sprintf("The narrator wants to %s (%s). /allow or /deny", f.ToolName, f.Description)))
	case protocol.TypeGameCreated, protocol.TypeGameJoined:
		m.code, m.self, m.host = f.Code, f.ParticipantID, f.IsHost
		m.appendLine(systemStyle.Render(fmt.Sprintf("room %s, you are %s", f.Code, f.ParticipantID)))
	case protocol.TypeHostChanged:
		m.host = f.ParticipantID == m.self
		if m.host {
			m.appendLine(systemStyle.Render("you are now the host"))
		}
	case protocol.TypeGameStarted:
		m.appendLine(systemStyle.Render("the game begins"))
	case protocol.TypePlayerJoined, protocol.TypePlayerLeft, protocol.TypePlayerDisconnect, protocol.TypePlayerReconnect:
		if f.Player != nil {
			m.appendLine(systemStyle.Render(f.Player.Name + " " + strings.ReplaceAll(strings.TrimPrefix(f.Type, "player_"), "_", " ")))
		}
	case protocol.TypeHistory:
		for _, e := range f.Messages {
			if e.Kind == adventure.SpeakerNarrator {
				m.appendLine(dmStyle.Render(e.Text))
				continue
			}
			m.appendLine(playerStyle.Render("> ") + e.Text)
		}
	case protocol.TypeSessionCreated:
		m.sessionID = f.SessionID
		m.appendLine(systemStyle.Render("adventure " + f.SessionID))
	case protocol.TypeCombatStarted, protocol.TypeTurnChanged:
		if f.Active != nil {
			m.appendLine(promptStyle.Render(fmt.Sprintf("round %d: %s's turn", f.Round, f.Active.Name)))
		}
	case protocol.TypeCombatEnded:
		m.appendLine(promptStyle.Render("combat is over"))
	case protocol.TypeError:
		m.appendLine(errorStyle.Render(f.Error))
	}
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *model) refresh() {
	content := strings.Join(m.lines, "\n")
	if m.partial != "" {
		content += "\n" + dmStyle.Render(m.partial)
	}
	if m.timeline.Width > 0 {
		content = lipgloss.NewStyle().Width(m.timeline.Width).Render(content)
	}
	m.timeline.SetContent(content)
	m.timeline.GotoBottom()
}

func (m model) View() string {
	title := "tablehub"
	if m.code != "" {
		title += " · room " + m.code
		if m.host {
			title += " (host)"
		}
	} else if m.sessionID != "" {
		title += " · solo"
	}
	status := string(m.status)
	if m.status == protocol.StatusThinking {
		status = m.spinner.View() + " the narrator is thinking"
	}
	if n := len(m.pending); n > 0 {
		status += fmt.Sprintf(" · %d awaiting approval", n)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(title),
		panelBorders.Render(m.timeline.View()),
		statusStyle.Render(status),
		m.input.View(),
	)
}
