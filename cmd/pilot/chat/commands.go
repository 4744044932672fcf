package chat

import (
	"fmt"
	"strings"

	"ctxpilot/internal/panel"
	"ctxpilot/internal/session"
)

// errQuit is returned by parseInput for /quit.
var errQuit = fmt.Errorf("quit")

const helpText = `Commands:
  /new                 start a fresh session
  /cancel              cancel the running turn
  /toggle <module>     activate or deactivate a module (/toggle! cascades)
  /preset <name>       load a preset
  /save <name>         save the active modules as a preset
  /close <panel>       close a panel, e.g. /close P3
  /refresh <panel>     refetch a panel
  /help                show this help
  /quit                exit`

// parseInput turns one line of input into a session command. Plain text
// becomes a message; a nil command with a nil error means nothing to send.
func parseInput(line string) (session.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return session.SubmitMessage{Text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	arg := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("usage: %s <arg>", name)
		}
		return args[0], nil
	}

	switch name {
	case "/new":
		return session.NewSession{}, nil
	case "/cancel":
		return session.CancelTurn{}, nil
	case "/toggle", "/toggle!":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		return session.ToggleModule{ID: id, Cascade: name == "/toggle!"}, nil
	case "/preset":
		n, err := arg()
		if err != nil {
			return nil, err
		}
		return session.LoadPreset{Name: n}, nil
	case "/save":
		n, err := arg()
		if err != nil {
			return nil, err
		}
		return session.SavePreset{Name: n}, nil
	case "/close":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		return session.ClosePanel{ID: panel.ID(strings.ToUpper(id))}, nil
	case "/refresh":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		return session.RefreshPanel{ID: panel.ID(strings.ToUpper(id))}, nil
	case "/quit", "/exit":
		return nil, errQuit
	}
	return nil, fmt.Errorf("unknown command %s (try /help)", name)
}
