// Package tui is the interactive terminal front end: it renders the
// notification stream and turns key presses into controller commands.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/testopp/internal/notify"
	"github.com/chaz8081/testopp/internal/opp"
)

const (
	maxLogLines   = 200
	progressWidth = 40
)

// Commands is the part of the controller the UI drives.
type Commands interface {
	ToggleAdapter(on bool) error
	SendFile(address, path string) error
}

// notificationMsg carries one stream event into the update loop.
type notificationMsg struct {
	event notify.Event
}

// streamClosedMsg reports that the notification stream has ended.
type streamClosedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	onStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the bubbletea model.
type Model struct {
	cmds    Commands
	events  <-chan notify.Event
	request opp.TransferRequest

	initialized bool
	lines       []string
	height      int

	bar     progress.Model
	percent float64
	sending bool
}

// New creates a Model that sends request when the user presses s.
func New(cmds Commands, events <-chan notify.Event, request opp.TransferRequest) Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = progressWidth
	return Model{
		cmds:    cmds,
		events:  events,
		request: request,
		bar:     bar,
	}
}

func (m Model) Init() tea.Cmd {
	return m.listen()
}

// listen blocks until the next notification arrives.
func (m Model) listen() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return notificationMsg{event: ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.bar.Width = min(progressWidth, max(10, msg.Width-4))
		return m, nil

	case notificationMsg:
		m.apply(msg.event)
		return m, m.listen()

	case streamClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "b":
		on := !m.initialized
		cmds := m.cmds
		// Driver calls may block on the bus, so they run off the update loop.
		return m, func() tea.Msg {
			_ = cmds.ToggleAdapter(on)
			return nil
		}
	case "s":
		cmds, req := m.cmds, m.request
		return m, func() tea.Msg {
			_ = cmds.SendFile(req.Address, req.Path)
			return nil
		}
	}
	return m, nil
}

// apply folds one notification into the view state.
func (m *Model) apply(ev notify.Event) {
	if ev.Kind == notify.KindAdapterState {
		m.initialized = ev.Initialized
		if !ev.Initialized {
			m.sending = false
		}
		return
	}

	m.lines = append(m.lines, ev.Text)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}

	if sent, total, ok := parseProgress(ev.Text); ok {
		m.sending = true
		if total > 0 {
			m.percent = float64(sent) / float64(total)
		}
		return
	}
	if strings.HasPrefix(ev.Text, "Transfer complete") {
		m.sending = false
		if ev.Text == "Transfer complete" {
			m.percent = 1
		}
	}
}

// parseProgress recognises "Sent X of Y" notifications.
func parseProgress(text string) (sent, total uint64, ok bool) {
	if !strings.HasPrefix(text, "Sent ") {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(text, "Sent %d of %d", &sent, &total); err != nil {
		return 0, 0, false
	}
	return sent, total, true
}

func (m Model) View() string {
	var b strings.Builder

	state := offStyle.Render("not initialised")
	if m.initialized {
		state = onStyle.Render("initialised")
	}
	fmt.Fprintf(&b, "%s  Bluetooth: %s\n", titleStyle.Render("testopp"), state)
	fmt.Fprintf(&b, "%s\n\n", dimStyle.Render(fmt.Sprintf("target %s  file %s", m.request.Address, m.request.Path)))

	b.WriteString(m.bar.ViewAs(m.percent))
	if m.sending {
		b.WriteString(dimStyle.Render("  sending"))
	}
	b.WriteString("\n\n")

	for _, line := range m.visibleLines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("b toggle bluetooth • s send file • q quit"))
	b.WriteByte('\n')
	return b.String()
}

// visibleLines returns the tail of the log that fits the window.
func (m Model) visibleLines() []string {
	if m.height <= 0 {
		return m.lines
	}
	// header, blank, bar, blank, footer and its spacing
	room := max(1, m.height-8)
	if len(m.lines) <= room {
		return m.lines
	}
	return m.lines[len(m.lines)-room:]
}
