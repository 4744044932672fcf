package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"ctxpilot/internal/session"
)

// viewMsg carries a fresh session view into the update loop.
type viewMsg session.View

// Feed hands views from the session loop to the UI. Publish never blocks;
// views published faster than the UI reads them collapse to the newest.
type Feed struct {
	mu     sync.Mutex
	latest session.View
	have   bool
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewFeed() *Feed {
	return &Feed{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

// Publish is a session.Renderer.
func (f *Feed) Publish(v session.View) {
	f.mu.Lock()
	f.latest, f.have = v, true
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Close stops pending waits.
func (f *Feed) Close() { f.once.Do(func() { close(f.done) }) }

// Wait returns a command that delivers the next view.
func (f *Feed) Wait() tea.Cmd {
	return func() tea.Msg {
		for {
			f.mu.Lock()
			if f.have {
				v := f.latest
				f.have = false
				f.mu.Unlock()
				return viewMsg(v)
			}
			f.mu.Unlock()
			select {
			case <-f.signal:
			case <-f.done:
				return nil
			}
		}
	}
}
