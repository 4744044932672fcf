package provider

import (
	"context"
	"fmt"
	"strings"

	"ctxpilot/internal/history"
)

// Echo is an offline adapter that describes what it was shown: the panels
// in the prompt and the last user message.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (e Echo) Stream(ctx context.Context, prompt *Prompt) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, AsError(e.Name(), err)
	}

	var sb strings.Builder
	if last := lastUser(prompt.History); last != "" {
		sb.WriteString(fmt.Sprintf("You said: %s\n\n", last))
	}
	if len(prompt.Panels) == 0 {
		sb.WriteString("No panels are open.")
	} else {
		sb.WriteString(fmt.Sprintf("I can see %d panels (%d prompt tokens):\n", len(prompt.Panels), prompt.Tokens))
		for _, p := range prompt.Panels {
			header := p.Result
			if i := strings.IndexByte(header, '\n'); i >= 0 {
				header = header[:i]
			}
			sb.WriteString(fmt.Sprintf("- %s\n", header))
		}
	}

	out := make(chan Event, 2)
	out <- Text(sb.String())
	out <- Done()
	close(out)
	return out, nil
}

func lastUser(msgs []history.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == history.RoleUser {
			return firstLine(msgs[i].Content)
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
