package ui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"ctxpilot/internal/panel"
)

// PanelGlyph marks an element's lifecycle state.
func PanelGlyph(s panel.State) string {
	switch s {
	case panel.StateReady:
		return "●"
	case panel.StateStale:
		return "↻"
	case panel.StateError:
		return "✗"
	default:
		return "◌"
	}
}

// RenderPanels renders the panel sidebar. Panels named in evicted were left
// out of the last prompt.
func (s Styles) RenderPanels(panels []panel.Element, evicted []panel.ID, width int) string {
	if width <= 0 {
		return ""
	}
	out := make(map[panel.ID]bool, len(evicted))
	for _, id := range evicted {
		out[id] = true
	}

	var b strings.Builder
	b.WriteString(s.Title.Render(fmt.Sprintf("Panels (%d)", len(panels))))
	b.WriteByte('\n')
	if len(panels) == 0 {
		b.WriteString(s.Muted.Render("none open"))
		return b.String()
	}

	var total int
	for _, e := range panels {
		total += e.Tokens
		title := e.Title
		if title == "" {
			title = e.Source
		}
		if title == "" {
			title = string(e.Kind)
		}
		var flags []string
		if e.Pinned {
			flags = append(flags, "pin")
		}
		if !e.Visible {
			flags = append(flags, "hidden")
		}
		if out[e.ID] {
			flags = append(flags, "evicted")
		}

		head := fmt.Sprintf("%s %-4s", PanelGlyph(e.State), e.ID)
		tail := humanize.Comma(int64(e.Tokens))
		if len(flags) > 0 {
			tail += " " + strings.Join(flags, ",")
		}
		room := width - len([]rune(head)) - len([]rune(tail)) - 2
		line := head + " " + Truncate(title, room) + " " + s.Muted.Render(tail)

		switch {
		case e.State == panel.StateError:
			line = s.Error.Render(head) + " " + Truncate(title, room) + " " + s.Muted.Render(tail)
		case out[e.ID] || !e.Visible:
			line = s.Muted.Render(head + " " + Truncate(title, room) + " " + tail)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(s.Muted.Render(fmt.Sprintf("%s tokens", humanize.Comma(int64(total)))))
	return b.String()
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
