package ui

// Layout constants for viewport and sidebar sizing
const (
	HeaderHeight = 1
	FooterHeight = 1
	InputHeight  = 3

	SplitPaneLeftRatio = 0.65
	SplitPaneDivider   = 1

	MinimumTerminalWidth = 60
	MinSidebarWidth      = 24
)

// LayoutConfig provides computed layout dimensions based on terminal size.
type LayoutConfig struct {
	TerminalWidth  int
	TerminalHeight int
}

func NewLayoutConfig(width, height int) LayoutConfig {
	return LayoutConfig{TerminalWidth: width, TerminalHeight: height}
}

// Compact reports whether the panel sidebar is hidden.
func (l LayoutConfig) Compact() bool {
	return l.TerminalWidth < MinimumTerminalWidth
}

// ChatHeight is the height left for the conversation viewport.
func (l LayoutConfig) ChatHeight() int {
	h := l.TerminalHeight - HeaderHeight - FooterHeight - InputHeight - 1
	if h < 1 {
		h = 1
	}
	return h
}

// SplitPaneWidths returns the conversation and sidebar widths. In compact
// mode the sidebar width is zero.
func (l LayoutConfig) SplitPaneWidths() (left, right int) {
	if l.Compact() {
		return l.TerminalWidth, 0
	}
	left = int(float64(l.TerminalWidth) * SplitPaneLeftRatio)
	right = l.TerminalWidth - left - SplitPaneDivider
	if right < MinSidebarWidth {
		right = MinSidebarWidth
		left = l.TerminalWidth - right - SplitPaneDivider
	}
	return left, right
}
