package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/history"
)

// View renders the chat screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting..."
	}

	left, right := m.layout.SplitPaneWidths()
	body := m.viewport.View()
	if m.showHelp {
		body = lipgloss.NewStyle().Width(left).Height(m.layout.ChatHeight()).Render(helpText)
	}
	if right > 0 {
		side := m.styles.Sidebar.
			Width(right).
			Height(m.layout.ChatHeight()).
			Render(m.styles.RenderPanels(m.view.Panels, m.view.Report.Evicted, right-2))
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, side)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderFooter(),
		m.textarea.View(),
	)
}

func (m Model) renderHeader() string {
	id := m.view.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	mods := strings.Join(m.view.Modules, " ")
	text := fmt.Sprintf("pilot  %s  [%s]", id, mods)
	return m.styles.Header.Width(m.layout.TerminalWidth).Render(text)
}

func (m Model) renderFooter() string {
	var parts []string
	switch {
	case m.busy():
		parts = append(parts, m.spinner.View()+" "+m.view.Turn.String())
	case m.view.Turn == assembler.Failed:
		parts = append(parts, m.styles.Error.Render("failed"))
	}
	r := m.view.Report
	if r.Budget > 0 {
		parts = append(parts, fmt.Sprintf("%s/%s tokens", humanize.Comma(int64(r.Total)), humanize.Comma(int64(r.Budget))))
	}
	parts = append(parts, fmt.Sprintf("history %s", humanize.Comma(int64(m.view.HistoryTokens))))
	if u := m.view.Usage; u.Rounds > 0 {
		parts = append(parts, fmt.Sprintf("↑%s ↓%s", humanize.Comma(u.Input), humanize.Comma(u.Output)))
	}

	notice := m.local
	if notice == "" {
		notice = m.view.Notice
	}
	if notice != "" {
		parts = append(parts, m.styles.Warning.Render(notice))
	}
	return m.styles.Footer.Render(strings.Join(parts, "  ·  "))
}

// renderHistory renders the conversation, with the streaming reply last.
func (m Model) renderHistory() string {
	var b strings.Builder
	for _, msg := range m.view.Messages {
		switch msg.Role {
		case history.RoleUser:
			b.WriteString(m.styles.Prompt.Render("You"))
			b.WriteByte('\n')
			b.WriteString(m.styles.UserInput.Render(msg.Content))
		case history.RoleAssistant:
			if msg.Content != "" {
				b.WriteString(m.styles.AgentResponse.Render(m.safeRenderMarkdown(msg.Content)))
			}
			for _, call := range msg.ToolCalls {
				if msg.Content != "" {
					b.WriteByte('\n')
				}
				b.WriteString(m.styles.Info.Render("→ " + call.Name))
			}
		case history.RoleTool:
			b.WriteString(m.styles.ToolResult.Render(firstLines(msg.Content, 3)))
		case history.RoleSystem:
			b.WriteString(m.styles.Muted.Render(firstLines(msg.Content, 6)))
		}
		b.WriteString("\n\n")
	}
	if m.view.Streaming != "" {
		b.WriteString(m.styles.AgentResponse.Render(m.view.Streaming))
		b.WriteByte('\n')
	}
	if m.view.TurnErr != nil {
		b.WriteString(m.styles.Error.Render("Error: " + m.view.TurnErr.Error()))
		b.WriteByte('\n')
	}
	return b.String()
}

// safeRenderMarkdown renders markdown, falling back to the raw text if the
// renderer fails or panics.
func (m Model) safeRenderMarkdown(content string) (out string) {
	if m.renderer == nil {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			out = content
		}
	}()
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n…"
}
