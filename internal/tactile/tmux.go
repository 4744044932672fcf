package tactile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// HashTailLines is how many trailing lines of a pane feed its hash.
const HashTailLines = 2

// Tmux drives tmux panes.
type Tmux struct {
	exec Executor
}

// NewTmux creates a tmux driver.
func NewTmux(exec Executor) *Tmux {
	return &Tmux{exec: exec}
}

// Capture is the text of a pane plus its change-detection hash.
type Capture struct {
	Pane string
	Text string
	Hash string
}

// CapturePane returns the last lines of a pane. The hash covers only the
// final HashTailLines non-empty lines so output that merely scrolls does
// not count as a change.
func (t *Tmux) CapturePane(ctx context.Context, pane string, lines int) (Capture, error) {
	if lines <= 0 {
		lines = 50
	}
	res, err := t.exec.Execute(ctx, Command{
		Binary:    "tmux",
		Arguments: []string{"capture-pane", "-p", "-J", "-t", pane, "-S", "-" + strconv.Itoa(lines)},
	})
	if err != nil {
		return Capture{}, err
	}
	if !res.OK() {
		return Capture{}, fmt.Errorf("tmux capture-pane %s: %s", pane, strings.TrimSpace(res.Combined()))
	}
	text := strings.TrimRight(res.Stdout, "\n")
	return Capture{Pane: pane, Text: text, Hash: TailHash(text, HashTailLines)}, nil
}

// SendKeys types keys into a pane, followed by Enter when enter is set.
func (t *Tmux) SendKeys(ctx context.Context, pane, keys string, enter bool) error {
	args := []string{"send-keys", "-t", pane, keys}
	if enter {
		args = append(args, "Enter")
	}
	res, err := t.exec.Execute(ctx, Command{Binary: "tmux", Arguments: args})
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("tmux send-keys %s: %s", pane, strings.TrimSpace(res.Combined()))
	}
	return nil
}

// NewPane splits a new pane in the current window and returns its id.
func (t *Tmux) NewPane(ctx context.Context, dir string) (string, error) {
	args := []string{"split-window", "-d", "-P", "-F", "#{pane_id}"}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	res, err := t.exec.Execute(ctx, Command{Binary: "tmux", Arguments: args})
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("tmux split-window: %s", strings.TrimSpace(res.Combined()))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// TailHash hashes the last n non-empty lines of text.
func TailHash(text string, n int) string {
	lines := strings.Split(text, "\n")
	tail := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(tail) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		tail = append(tail, lines[i])
	}
	sum := sha256.Sum256([]byte(strings.Join(tail, "\n")))
	return hex.EncodeToString(sum[:16])
}
