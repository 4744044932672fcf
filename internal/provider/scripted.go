package provider

import (
	"context"
	"fmt"
	"sync"

	"ctxpilot/internal/history"
)

// Script is the event sequence of one scripted response.
type Script []Event

// Text is a text fragment event.
func Text(s string) Event { return Event{Kind: EventText, Text: s} }

// Call is a tool-call request event.
func Call(id, name string, args map[string]any) Event {
	return Event{Kind: EventToolCall, ToolCall: &history.ToolCall{ID: id, Name: name, Args: args}}
}

// Fail is an error event.
func Fail(err error) Event { return Event{Kind: EventError, Err: err} }

// Done ends a response.
func Done() Event { return Event{Kind: EventDone} }

// Scripted replays canned responses in order and records every prompt it
// receives. A script without a terminal event gets Done appended.
type Scripted struct {
	mu      sync.Mutex
	scripts []Script
	prompts []*Prompt
	// OpenErr, when set, fails the next Stream call before any event.
	OpenErr error
}

// NewScripted creates an adapter replaying scripts.
func NewScripted(scripts ...Script) *Scripted {
	return &Scripted{scripts: scripts}
}

func (s *Scripted) Name() string { return "scripted" }

// Push appends more responses.
func (s *Scripted) Push(scripts ...Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []*Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Prompt(nil), s.prompts...)
}

// Remaining returns how many responses are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scripts)
}

func (s *Scripted) Stream(ctx context.Context, prompt *Prompt) (<-chan Event, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	if err := s.OpenErr; err != nil {
		s.OpenErr = nil
		s.mu.Unlock()
		return nil, err
	}
	if len(s.scripts) == 0 {
		s.mu.Unlock()
		return nil, NewError(s.Name(), KindInvalid, fmt.Sprintf("no scripted response for prompt %d", len(s.prompts)))
	}
	script := s.scripts[0]
	s.scripts = s.scripts[1:]
	s.mu.Unlock()

	if n := len(script); n == 0 || (script[n-1].Kind != EventDone && script[n-1].Kind != EventError) {
		script = append(append(Script(nil), script...), Done())
	}

	out := make(chan Event, len(script))
	for _, ev := range script {
		out <- ev
	}
	close(out)
	return out, nil
}
