package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Header returns the first line of a serialized element.
func Header(e Element) string {
	title := e.Title
	if title == "" {
		title = e.Source
	}
	if title == "" {
		return fmt.Sprintf("=== %s [%s] ===", e.ID, e.Kind)
	}
	return fmt.Sprintf("=== %s [%s] %s ===", e.ID, e.Kind, title)
}

// Footer returns the trailing metadata line of a serialized element.
func Footer(e Element, now time.Time) string {
	return fmt.Sprintf("--- refreshed %s, %d tokens ---", Age(e.Freshness, now), e.Tokens)
}

// Age formats how long ago t was, relative to now.
func Age(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Placeholder is what an element without usable content serializes to.
// Stale content is never sent; the model is told a refresh is pending.
func Placeholder(e Element) string {
	var status string
	switch e.State {
	case StateEmpty, StateLoading:
		status = "loading, content not yet available"
	case StateStale:
		status = "refreshing, previous content is out of date"
	case StateError:
		status = "error: " + e.Err
	default:
		status = e.State.String()
	}
	return Header(e) + "\n[" + status + "]"
}

// Serialize renders an element for the prompt: header, content and footer
// for Ready elements, a placeholder for everything else.
func Serialize(e Element, now time.Time) string {
	if !e.State.HasContent() {
		return Placeholder(e)
	}
	var b strings.Builder
	b.WriteString(Header(e))
	b.WriteByte('\n')
	b.WriteString(e.Content)
	if !strings.HasSuffix(e.Content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(Footer(e, now))
	return b.String()
}
