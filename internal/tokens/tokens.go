// Package tokens estimates token costs for prompt budget accounting.
package tokens

import (
	"unicode/utf8"

	"ctxpilot/internal/logging"
)

// =============================================================================
// Token Counting Utilities
// =============================================================================
// The heuristic is calibrated for common BPE tokenizers (~4 characters per token).
// Every non-empty string costs at least one token.

// Counter provides token counting functionality.
type Counter struct {
	// Calibration factor (characters per token)
	charsPerToken int
}

// NewCounter creates a new token counter with default calibration.
func NewCounter() *Counter {
	return &Counter{charsPerToken: 4}
}

var defaultCounter = NewCounter()

// Estimate estimates tokens in s using the default counter.
func Estimate(s string) int {
	return defaultCounter.CountString(s)
}

// CountString estimates tokens in a string.
func (c *Counter) CountString(s string) int {
	if s == "" {
		return 0
	}
	// Use rune count for proper unicode handling
	runes := utf8.RuneCountInString(s)
	return (runes + c.charsPerToken - 1) / c.charsPerToken
}

// CountStrings sums CountString over parts.
func (c *Counter) CountStrings(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += c.CountString(p)
	}
	return total
}

// =============================================================================
// Token Budget
// =============================================================================

// Category names used by the assembler.
const (
	CategorySystem  = "system"
	CategoryPanels  = "panels"
	CategoryHistory = "history"
)

// Usage is a snapshot of budget consumption.
type Usage struct {
	Total     int `json:"total"`
	System    int `json:"system"`
	Panels    int `json:"panels"`
	History   int `json:"history"`
	Available int `json:"available"`
}

// Budget tracks token allocation against a total limit.
type Budget struct {
	limit int
	used  map[string]int
}

// NewBudget creates a budget with the given total limit.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit, used: make(map[string]int, 3)}
}

// Limit returns the configured total.
func (b *Budget) Limit() int { return b.limit }

// Allocate attempts to allocate tokens for a category.
// Returns true if allocation succeeded, false if over budget.
func (b *Budget) Allocate(category string, tokens int) bool {
	if b.TotalUsed()+tokens > b.limit {
		logging.AssemblerDebug("Token allocation REJECTED: %s +%d would exceed budget (%d > %d)",
			category, tokens, b.TotalUsed()+tokens, b.limit)
		return false
	}
	b.used[category] += tokens
	return true
}

// Force records tokens for a category even when that overruns the limit.
func (b *Budget) Force(category string, tokens int) {
	b.used[category] += tokens
}

// Release releases tokens from a category.
func (b *Budget) Release(category string, tokens int) {
	b.used[category] = max(0, b.used[category]-tokens)
}

// Used returns the tokens allocated to one category.
func (b *Budget) Used(category string) int { return b.used[category] }

// TotalUsed returns total tokens currently used.
func (b *Budget) TotalUsed() int {
	total := 0
	for _, n := range b.used {
		total += n
	}
	return total
}

// Available returns tokens still available. Negative when over budget.
func (b *Budget) Available() int {
	return b.limit - b.TotalUsed()
}

// Over reports whether usage exceeds the limit.
func (b *Budget) Over() bool { return b.TotalUsed() > b.limit }

// Utilization returns the current utilization as a fraction of the limit.
func (b *Budget) Utilization() float64 {
	if b.limit <= 0 {
		return 0
	}
	return float64(b.TotalUsed()) / float64(b.limit)
}

// GetUsage returns detailed token usage.
func (b *Budget) GetUsage() Usage {
	return Usage{
		Total:     b.TotalUsed(),
		System:    b.used[CategorySystem],
		Panels:    b.used[CategoryPanels],
		History:   b.used[CategoryHistory],
		Available: b.Available(),
	}
}

// Reset resets all usage counters.
func (b *Budget) Reset() {
	for k := range b.used {
		delete(b.used, k)
	}
}
