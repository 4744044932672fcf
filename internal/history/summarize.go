package history

import (
	"context"
	"fmt"
	"strings"
)

// Extractive is the default summarizer: the first line of each message,
// truncated, preceded by the prior digest summary.
type Extractive struct {
	// MaxLine caps each extracted content line in runes (default 120).
	// Tool call name lists are kept whole.
	MaxLine int
}

func (e Extractive) Summarize(_ context.Context, prior *Digest, msgs []Message) (string, error) {
	limit := e.MaxLine
	if limit <= 0 {
		limit = 120
	}

	var sb strings.Builder
	if prior != nil && prior.Summary != "" {
		sb.WriteString(strings.TrimRight(prior.Summary, "\n"))
		sb.WriteString("\n")
	}
	for _, m := range msgs {
		line := truncate(firstLine(m.Content), limit)
		if line == "" && len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				names[i] = c.Name
			}
			line = "called " + strings.Join(names, ", ")
		}
		if line == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s %s: %s\n", m.ID, m.Role, line))
	}
	return sb.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
