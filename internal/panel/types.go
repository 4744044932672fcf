// Package panel holds the context element store: the live registry of
// asynchronously populated panels that the main loop owns exclusively.
package panel

import (
	"context"
	"fmt"
	"time"
)

// ID identifies an element for the lifetime of a session ("P1", "P2", ...).
type ID string

// Kind is the content category of an element.
type Kind string

const (
	KindFile       Kind = "file"
	KindTree       Kind = "tree"
	KindGlob       Kind = "glob"
	KindGrep       Kind = "grep"
	KindTmux       Kind = "tmux"
	KindGitStatus  Kind = "git_status"
	KindGitLog     Kind = "git_log"
	KindMemory     Kind = "memory"
	KindScratchpad Kind = "scratchpad"
	KindCommand    Kind = "command"

	KindNotifications Kind = "notifications"
)

// State is the lifecycle state of an element.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateStale
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HasContent reports whether elements in this state may be serialized with content.
func (s State) HasContent() bool { return s == StateReady }

// Strategy is how an element learns it is out of date.
type Strategy string

const (
	StrategyWatch   Strategy = "watch"
	StrategyTimer   Strategy = "timer"
	StrategyCommand Strategy = "command"
	StrategyManual  Strategy = "manual"
)

// Element is one context panel. Copies returned by the store are snapshots.
type Element struct {
	ID        ID
	Kind      Kind
	Title     string
	State     State
	Content   string
	Hash      string
	Tokens    int
	Err       string
	Strategy  Strategy
	Freshness time.Time // last successful update
	Created   time.Time
	Visible   bool
	Priority  int
	Pinned    bool
	Source    string // path, pattern or pane id
	Params    map[string]string
	Subsystem string
	Module    string

	// Seq is the creation sequence, used to break ordering ties.
	Seq uint64
	// InFlight is the request sequence of the outstanding fetch, 0 when idle.
	InFlight uint64

	refetch   bool
	lastState State // settled state before the current fetch
}

// Param returns a parameter value or "".
func (e Element) Param(key string) string {
	if e.Params == nil {
		return ""
	}
	return e.Params[key]
}

// Content is what a fetch produces. Hash may be left empty; the store then
// hashes Text.
type Content struct {
	Text string
	Hash string
}

// FetchFunc produces element content. It runs on a worker goroutine and must
// not touch the store.
type FetchFunc func(ctx context.Context) (Content, error)

// Factory creates and refreshes elements of one kind. Factories are provided
// by modules; Prepare is always called on the main thread and captures
// whatever the fetch needs.
type Factory interface {
	Kind() Kind
	Subsystem() string
	Strategy() Strategy
	DefaultPriority() int
	Title(source string, params map[string]string) string
	Prepare(e Element) FetchFunc
}

// Update is the only message a worker sends back: the result of one request.
type Update struct {
	ID   ID
	Seq  uint64
	Text string
	Hash string
	At   time.Time
	Err  error
}

// ApplyResult describes what ApplyUpdate did.
type ApplyResult struct {
	// Discarded is set for unknown ids and superseded sequence numbers.
	Discarded bool
	// Dirty is set when the visible representation changed.
	Dirty bool
	// Refetch is set when an invalidation arrived while the fetch was in flight.
	Refetch bool
}
