// Package diff computes line diffs for tool results, so the model sees what
// an edit changed without reopening the file.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType is the kind of a diff line.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

func (t LineType) prefix() string {
	switch t {
	case LineAdded:
		return "+"
	case LineRemoved:
		return "-"
	default:
		return " "
	}
}

// Line is one line of a hunk.
type Line struct {
	Type    LineType
	Content string
}

// Hunk is a run of changes with surrounding context. Starts are 1-based.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []Line
}

// FileDiff is the line diff of one file.
type FileDiff struct {
	Path    string
	Hunks   []Hunk
	Added   int
	Removed int
}

// Empty reports whether nothing changed.
func (d *FileDiff) Empty() bool { return d.Added == 0 && d.Removed == 0 }

// Stat formats the change counts, e.g. "+3 -1".
func (d *FileDiff) Stat() string { return fmt.Sprintf("+%d -%d", d.Added, d.Removed) }

// DefaultContext is the number of unchanged lines kept around changes.
const DefaultContext = 3

// Compute diffs old against new line by line.
func Compute(path, oldText, newText string, context int) *FileDiff {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	ops := toOps(diffs)
	d := &FileDiff{Path: path}
	for _, op := range ops {
		switch op.typ {
		case LineAdded:
			d.Added++
		case LineRemoved:
			d.Removed++
		}
	}
	d.Hunks = group(ops, context)
	return d
}

type op struct {
	typ      LineType
	old, new int // 0-based line numbers before the op
	text     string
}

func toOps(diffs []diffmatchpatch.Diff) []op {
	var ops []op
	oldLine, newLine := 0, 0
	for _, df := range diffs {
		text := strings.TrimSuffix(df.Text, "\n")
		if df.Text == "" {
			continue
		}
		for _, l := range strings.Split(text, "\n") {
			o := op{old: oldLine, new: newLine, text: l}
			switch df.Type {
			case diffmatchpatch.DiffEqual:
				o.typ = LineContext
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				o.typ = LineRemoved
				oldLine++
			case diffmatchpatch.DiffInsert:
				o.typ = LineAdded
				newLine++
			}
			ops = append(ops, o)
		}
	}
	return ops
}

// group splits ops into hunks. Changes closer than 2*context lines share a
// hunk.
func group(ops []op, context int) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(ops) {
		for i < len(ops) && ops[i].typ == LineContext {
			i++
		}
		if i == len(ops) {
			break
		}
		start := max(i-context, 0)
		end := i
		for j := i; j < len(ops); j++ {
			if ops[j].typ != LineContext {
				end = j
				continue
			}
			if j-end > 2*context {
				break
			}
		}
		stop := min(end+context+1, len(ops))

		h := Hunk{OldStart: ops[start].old + 1, NewStart: ops[start].new + 1}
		for _, o := range ops[start:stop] {
			h.Lines = append(h.Lines, Line{Type: o.typ, Content: o.text})
			if o.typ != LineAdded {
				h.OldCount++
			}
			if o.typ != LineRemoved {
				h.NewCount++
			}
		}
		hunks = append(hunks, h)
		i = stop
	}
	return hunks
}

// Unified renders the hunks in unified format, stopping after maxLines
// lines (0 means no limit).
func (d *FileDiff) Unified(maxLines int) string {
	var b strings.Builder
	n := 0
	for _, h := range d.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			if maxLines > 0 && n == maxLines {
				fmt.Fprintf(&b, "... diff truncated (%s lines)\n", d.Stat())
				return b.String()
			}
			b.WriteString(l.Type.prefix())
			b.WriteString(l.Content)
			b.WriteByte('\n')
			n++
		}
	}
	return b.String()
}
