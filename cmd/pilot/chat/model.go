// Package chat implements the interactive terminal UI. The session loop runs
// in its own goroutine; the model only submits commands and draws the views
// the loop publishes.
package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"ctxpilot/cmd/pilot/ui"
	"ctxpilot/internal/assembler"
	"ctxpilot/internal/session"
)

// Submitter queues commands for the session loop.
type Submitter interface {
	Submit(cmd session.Command) error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	target Submitter
	feed   *Feed
	styles ui.Styles
	layout ui.LayoutConfig

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	view     session.View
	local    string // notice produced by the UI itself
	showHelp bool
	ready    bool
	quitting bool
}

// New creates the chat model.
func New(target Submitter, feed *Feed, styles ui.Styles) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask anything... (Enter to send, Esc to cancel, /help for commands)"
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 8192
	ta.ShowLineNumbers = false
	ta.SetHeight(ui.InputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	return Model{
		target:   target,
		feed:     feed,
		styles:   styles,
		textarea: ta,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		renderer: newRenderer(styles, 76),
	}
}

func newRenderer(styles ui.Styles, wrap int) *glamour.TermRenderer {
	if wrap < 20 {
		wrap = 20
	}
	style := "light"
	if styles.Theme.IsDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(wrap))
	if err != nil {
		return nil
	}
	return r
}

// Init starts the cursor blink, the spinner and the view feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.feed.Wait())
}

// busy reports whether a turn is running.
func (m Model) busy() bool {
	switch m.view.Turn {
	case assembler.Assembling, assembler.Sent, assembler.Streaming:
		return true
	}
	return false
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			if m.busy() {
				m.submit(session.CancelTurn{})
			}
			m.showHelp = false
			return m, nil
		case tea.KeyEnter:
			return m.handleEnter()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case viewMsg:
		m.view = session.View(msg)
		m.refresh()
		cmds = append(cmds, m.feed.Wait())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.textarea.Value())
	m.textarea.Reset()
	if line == "/help" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	cmd, err := parseInput(line)
	switch {
	case errors.Is(err, errQuit):
		m.quitting = true
		return m, tea.Quit
	case err != nil:
		m.local = err.Error()
		return m, nil
	case cmd == nil:
		return m, nil
	}
	if _, ok := cmd.(session.SubmitMessage); ok && m.busy() {
		m.local = "a turn is running; press Esc to cancel it"
		return m, nil
	}
	m.submit(cmd)
	return m, nil
}

func (m *Model) submit(cmd session.Command) {
	if err := m.target.Submit(cmd); err != nil {
		m.local = err.Error()
		return
	}
	m.local = ""
}

func (m *Model) resize(width, height int) {
	m.layout = ui.NewLayoutConfig(width, height)
	left, _ := m.layout.SplitPaneWidths()
	if !m.ready {
		m.viewport = viewport.New(left, m.layout.ChatHeight())
		m.ready = true
	} else {
		m.viewport.Width = left
		m.viewport.Height = m.layout.ChatHeight()
	}
	m.textarea.SetWidth(width - 2)
	m.renderer = newRenderer(m.styles, left-4)
	m.refresh()
}

// refresh redraws the conversation and keeps it scrolled to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}
