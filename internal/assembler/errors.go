package assembler

import "fmt"

// BudgetError means the prompt exceeds the budget even after every
// evictable panel was dropped and history was detached as far as allowed.
type BudgetError struct {
	Budget   int
	Required int
	// Pinned is the token cost of panels that could not be evicted.
	Pinned int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("prompt needs %d tokens but the budget is %d (%d pinned)", e.Required, e.Budget, e.Pinned)
}
