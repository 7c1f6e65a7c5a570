package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Row is the latest known state of one request.
type Row struct {
	RequestID  string
	ExternalID string
	State      string
}

// UIState is the result of one poll of the pending submissions.
type UIState struct {
	Tool      string
	Rows      []Row
	Submitted int
	Done      int
	Failed    int
	LastPoll  time.Time
}

// NewUIState builds a UIState from rows and counts them per state.
func NewUIState(tool string, rows []Row, polled time.Time) *UIState {
	s := &UIState{Tool: tool, Rows: rows, LastPoll: polled}
	sort.Slice(s.Rows, func(i, j int) bool {
		if s.Rows[i].ExternalID != s.Rows[j].ExternalID {
			return s.Rows[i].ExternalID < s.Rows[j].ExternalID
		}
		return s.Rows[i].RequestID < s.Rows[j].RequestID
	})
	for _, r := range rows {
		switch r.State {
		case "DONE":
			s.Done++
		case "FAILED":
			s.Failed++
		default:
			s.Submitted++
		}
	}
	return s
}

// Fraction returns the share of requests in a terminal state.
func (s *UIState) Fraction() float64 {
	total := s.Submitted + s.Done + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Done+s.Failed) / float64(total)
}

// Finished reports whether every request reached a terminal state.
func (s *UIState) Finished() bool {
	return len(s.Rows) > 0 && s.Submitted == 0
}

// PollFunc queries the backend once and returns the new state.
type PollFunc func(ctx context.Context) (*UIState, error)

// PollResultMsg carries the outcome of a poll.
type PollResultMsg struct {
	State *UIState
	Err   error
}

type pollTickMsg struct{}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	poll     PollFunc
	interval time.Duration
	state    *UIState
	err      error
	polling  bool

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	rowStyle     lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// NewTUIModel creates a watch view that calls poll every interval.
func NewTUIModel(poll PollFunc, interval time.Duration) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		poll:         poll,
		interval:     interval,
		state:        &UIState{},
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		rowStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.pollCmd(),
	)
}

func (m TUIModel) pollCmd() tea.Cmd {
	poll := m.poll
	return func() tea.Msg {
		state, err := poll(context.Background())
		return PollResultMsg{State: state, Err: err}
	}
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.polling {
				m.polling = true
				return m, m.pollCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case PollResultMsg:
		m.polling = false
		m.err = msg.Err
		if msg.Err == nil && msg.State != nil {
			m.state = msg.State
		}
		cmds = append(cmds, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTickMsg{} }))

	case pollTickMsg:
		if !m.polling {
			m.polling = true
			cmds = append(cmds, m.pollCmd())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	// Header
	header := fmt.Sprintf("%s gxfer %s", m.spinner.View(), m.titleStyle.Render("Transfer Status"))
	sb.WriteString(header + "\n")

	info := fmt.Sprintf("Tool: %s | Submitted: %d | Done: %d | Failed: %d | Last poll: %s",
		m.state.Tool, m.state.Submitted, m.state.Done, m.state.Failed, formatAge(m.state.LastPoll, time.Now()))
	sb.WriteString(m.infoStyle.Render(info) + "\n")
	sb.WriteString(m.progress.ViewAs(m.state.Fraction()) + "\n\n")

	var rows strings.Builder
	if len(m.state.Rows) == 0 {
		rows.WriteString(m.infoStyle.Render("No pending submissions..."))
	} else {
		for _, r := range m.state.Rows {
			rows.WriteString(fmt.Sprintf("%-36s | %-36s | %s\n",
				truncate(r.RequestID, 36), truncate(r.ExternalID, 36), m.renderState(r.State)))
		}
	}

	m.viewport.SetContent(rows.String())
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: quit • r: refresh")
	switch {
	case m.err != nil:
		help = m.errorStyle.Render("Poll failed: "+m.err.Error()) + "\n" + help
	case m.state.Finished():
		help = m.successStyle.Render("All transfers finished!") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func (m TUIModel) renderState(state string) string {
	switch state {
	case "DONE":
		return m.successStyle.Render(state)
	case "FAILED":
		return m.errorStyle.Render(state)
	default:
		return m.rowStyle.Render(state)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-(n-3):]
}

func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "just now"
	}
	if d.Hours() > 24 {
		return "> 1d ago"
	}
	return d.Round(time.Second).String() + " ago"
}
