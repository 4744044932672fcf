// Package assembler builds the prompt for each model turn from the element
// store and the conversation, enforcing the token budget.
package assembler

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"ctxpilot/internal/history"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/tokens"
)

// pairOverhead approximates the tokens of the synthetic context_view call
// that precedes each panel result.
const pairOverhead = 8

// Config holds the assembly inputs that come from configuration.
type Config struct {
	Budget       int
	SystemPrompt string
	Reinjection  string
}

// Report describes one assembly.
type Report struct {
	PromptID string
	// Included lists serialized panels in prompt order.
	Included []panel.ID
	// Placeholders lists included panels that were sent without content.
	Placeholders []panel.ID
	// Evicted lists panels dropped from this prompt only, in eviction order.
	Evicted []panel.ID
	// Detached is set when history had to be detached to fit.
	Detached *history.Digest

	Budget        int
	SystemTokens  int
	PanelTokens   int
	HistoryTokens int
	Total         int
}

// Assembler is stateless between turns apart from its configuration.
type Assembler struct {
	cfg     Config
	counter *tokens.Counter
	newID   func() string
}

// New creates an assembler.
func New(cfg Config) *Assembler {
	return &Assembler{
		cfg:     cfg,
		counter: tokens.NewCounter(),
		newID:   uuid.NewString,
	}
}

// Config returns the assembler configuration.
func (a *Assembler) Config() Config { return a.cfg }

// SetBudget changes the token budget for later turns.
func (a *Assembler) SetBudget(n int) { a.cfg.Budget = n }

type candidate struct {
	e       panel.Element
	pair    provider.PanelPair
	evicted bool
}

// Order returns the elements that take part in assembly, in prompt order:
// open and not in error, by priority descending, then freshness
// descending, then creation sequence ascending.
func Order(elements []panel.Element) []panel.Element {
	out := make([]panel.Element, 0, len(elements))
	for _, e := range elements {
		if e.Visible && e.State != panel.StateError {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Freshness.Equal(b.Freshness) {
			return a.Freshness.After(b.Freshness)
		}
		return a.Seq < b.Seq
	})
	return out
}

// EvictionOrder returns the evictable elements in the order they are
// dropped: priority ascending, then freshness ascending, then creation
// sequence descending. Pinned elements are never evicted.
func EvictionOrder(elements []panel.Element) []panel.Element {
	out := make([]panel.Element, 0, len(elements))
	for _, e := range elements {
		if !e.Pinned {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.Freshness.Equal(b.Freshness) {
			return a.Freshness.Before(b.Freshness)
		}
		return a.Seq > b.Seq
	})
	return out
}

// Assemble builds the prompt for the next model call. The store is only
// read; history may be detached when panels alone cannot make room.
func (a *Assembler) Assemble(ctx context.Context, store *panel.Store, conv *history.Conversation, toolSpecs []provider.ToolSpec) (*provider.Prompt, Report, error) {
	timer := logging.StartTimer(logging.CategoryAssembler, "assemble")
	defer timer.Stop()

	now := store.Now()
	report := Report{PromptID: a.newID(), Budget: a.cfg.Budget}
	report.SystemTokens = a.counter.CountString(a.cfg.SystemPrompt) + a.counter.CountString(a.cfg.Reinjection)

	ordered := Order(store.List())
	cands := make([]*candidate, len(ordered))
	byID := make(map[panel.ID]*candidate, len(ordered))
	for i, e := range ordered {
		text := panel.Serialize(e, now)
		c := &candidate{
			e: e,
			pair: provider.PanelPair{
				CallID:  "ctx_" + a.newID(),
				PanelID: string(e.ID),
				Args:    map[string]any{"panel": string(e.ID)},
				Result:  text,
				Tokens:  a.counter.CountString(text) + pairOverhead,
			},
		}
		cands[i] = c
		byID[e.ID] = c
		report.PanelTokens += c.pair.Tokens
	}

	total := func() int {
		return report.SystemTokens + report.PanelTokens + conv.Tokens()
	}

	if total() > a.cfg.Budget {
		for _, e := range EvictionOrder(ordered) {
			if total() <= a.cfg.Budget {
				break
			}
			c := byID[e.ID]
			c.evicted = true
			report.PanelTokens -= c.pair.Tokens
			report.Evicted = append(report.Evicted, e.ID)
		}
		if len(report.Evicted) > 0 {
			logging.AssemblerDebug("evicted %v to fit budget %d", report.Evicted, a.cfg.Budget)
		}
	}

	if total() > a.cfg.Budget {
		room := a.cfg.Budget - report.SystemTokens - report.PanelTokens
		if room < 0 {
			room = 0
		}
		d, err := conv.ShrinkTo(ctx, room)
		if err != nil {
			return nil, report, err
		}
		report.Detached = d
	}

	report.HistoryTokens = conv.Tokens()
	report.Total = total()
	if report.Total > a.cfg.Budget {
		pinned := 0
		for _, c := range cands {
			if !c.evicted {
				pinned += c.pair.Tokens
			}
		}
		logging.Get(logging.CategoryAssembler).Warn("over budget after eviction and detachment: %d > %d", report.Total, a.cfg.Budget)
		return nil, report, &BudgetError{Budget: a.cfg.Budget, Required: report.Total, Pinned: pinned}
	}

	prompt := &provider.Prompt{
		ID:          report.PromptID,
		System:      a.cfg.SystemPrompt,
		Reinjection: a.cfg.Reinjection,
		History:     conv.View(),
		Tools:       toolSpecs,
		Tokens:      report.Total,
	}
	for _, c := range cands {
		if c.evicted {
			continue
		}
		prompt.Panels = append(prompt.Panels, c.pair)
		report.Included = append(report.Included, c.e.ID)
		if !c.e.State.HasContent() {
			report.Placeholders = append(report.Placeholders, c.e.ID)
		}
	}

	logging.AssemblerDebug("assembled %s: %d panels, %d evicted, %d/%d tokens",
		report.PromptID, len(report.Included), len(report.Evicted), report.Total, a.cfg.Budget)
	return prompt, report, nil
}
