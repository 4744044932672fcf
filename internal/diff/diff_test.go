package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_Replace(t *testing.T) {
	d := Compute("main.go", "package main\n\nfunc main() {}\n", "package app\n\nfunc main() {}\n", DefaultContext)
	assert.Equal(t, 1, d.Added)
	assert.Equal(t, 1, d.Removed)
	assert.Equal(t, "+1 -1", d.Stat())
	require.Len(t, d.Hunks, 1)

	h := d.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.OldCount)
	assert.Equal(t, 3, h.NewCount)
	assert.Equal(t, "@@ -1,3 +1,3 @@\n-package main\n+package app\n \n func main() {}\n", d.Unified(0))
}

func TestCompute_NoChange(t *testing.T) {
	d := Compute("a", "same\n", "same\n", DefaultContext)
	assert.True(t, d.Empty())
	assert.Empty(t, d.Hunks)
	assert.Empty(t, d.Unified(0))
}

func TestCompute_SeparateHunks(t *testing.T) {
	var oldLines, newLines []string
	for i := 0; i < 40; i++ {
		line := fmt.Sprintf("line %d", i)
		oldLines = append(oldLines, line)
		newLines = append(newLines, line)
	}
	newLines[2] = "changed top"
	newLines[35] = "changed bottom"

	d := Compute("f", strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n", 2)
	require.Len(t, d.Hunks, 2)
	assert.Equal(t, 1, d.Hunks[0].OldStart)
	assert.Equal(t, 34, d.Hunks[1].OldStart)
	assert.Equal(t, 2, d.Added)
	assert.Equal(t, 2, d.Removed)
}

func TestCompute_Insertion(t *testing.T) {
	d := Compute("f", "a\nc\n", "a\nb\nc\n", 1)
	assert.Equal(t, 1, d.Added)
	assert.Zero(t, d.Removed)
	assert.Equal(t, "@@ -1,2 +1,3 @@\n a\n+b\n c\n", d.Unified(0))
}

func TestUnified_Truncates(t *testing.T) {
	d := Compute("f", "", "1\n2\n3\n4\n5\n", 0)
	out := d.Unified(2)
	assert.Contains(t, out, "+1\n+2\n")
	assert.NotContains(t, out, "+3")
	assert.Contains(t, out, "diff truncated (+5 -0 lines)")
}
