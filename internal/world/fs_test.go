package world

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	writeFile(t, p, "hello\nworld")

	f, err := ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", f.Text)
	assert.Equal(t, 2, f.Lines)
	assert.Equal(t, Hash([]byte("hello\nworld")), f.Hash)

	writeFile(t, p, "hello\nthere")
	g, err := ReadFile(p)
	require.NoError(t, err)
	assert.NotEqual(t, f.Hash, g.Hash)
}

func TestReadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bin := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0x00, 0x01, 0x02, 0xff, 0x00, 0x13}, 0644))
	_, err = ReadFile(bin)
	assert.ErrorIs(t, err, ErrBinaryFile)

	_, err = ReadFile(dir)
	assert.Error(t, err)
}

func TestTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.go"), "")
	writeFile(t, filepath.Join(dir, "a", "x.go"), "")
	writeFile(t, filepath.Join(dir, "node_modules", "dep.js"), "")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "")

	out, err := Tree(context.Background(), dir, TreeOptions{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{filepath.Base(dir) + "/", "  a/", "    x.go", "  b.go"}, lines)

	shallow, err := Tree(context.Background(), dir, TreeOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.NotContains(t, shallow, "x.go")

	limited, err := Tree(context.Background(), dir, TreeOptions{MaxEntries: 1})
	require.NoError(t, err)
	assert.Contains(t, limited, "truncated")
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "cmd/main.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "cmd/pilot/main.go", true},
		{"internal/**", "internal/a/b.txt", true},
		{"internal/**/test_*.go", "internal/x/test_a.go", true},
		{"internal/**/test_*.go", "cmd/test_a.go", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "")
	writeFile(t, filepath.Join(dir, "pkg", "util.go"), "")
	writeFile(t, filepath.Join(dir, "pkg", "README.md"), "")
	writeFile(t, filepath.Join(dir, "vendor", "dep.go"), "")

	got, err := Glob(context.Background(), dir, "**/*.go", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "pkg/util.go"}, got)

	_, err = Glob(context.Background(), dir, "", 0, nil)
	assert.Error(t, err)

	_, err = Glob(context.Background(), dir, "[", 0, nil)
	assert.Error(t, err)
}

func TestGrep(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.go"), "package a\n// TODO fix\nfunc A() {}\n")
	writeFile(t, filepath.Join(dir, "b.txt"), "todo later\n")

	matches, err := Grep(context.Background(), dir, "todo", GrepOptions{IgnoreCase: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a.go", matches[0].File)
	assert.Equal(t, 2, matches[0].LineNumber)

	goOnly, err := Grep(context.Background(), dir, "todo", GrepOptions{IgnoreCase: true, FileGlob: "*.go", ContextLines: 1})
	require.NoError(t, err)
	require.Len(t, goOnly, 1)
	assert.Equal(t, []string{"-1: package a"}, goOnly[0].Context)
	assert.Contains(t, FormatGrep(goOnly), "a.go:2: // TODO fix")

	_, err = Grep(context.Background(), dir, "(", GrepOptions{})
	assert.Error(t, err)
}

func TestIgnore_Match(t *testing.T) {
	var defaults *Ignore
	assert.True(t, defaults.Match("node_modules"))
	assert.True(t, defaults.Match("web/node_modules/react/index.js"))
	assert.True(t, defaults.Match(".git/HEAD"))
	assert.False(t, defaults.Match("internal/world/fs.go"))
	assert.False(t, defaults.Match("."))

	ig := NewIgnore("gen/*", "*.min.js", "docs/generated", "!vendor", "# comment", "  ")
	assert.True(t, ig.Match("gen/x.pb.go"))
	assert.True(t, ig.Match("web/app.min.js"))
	assert.False(t, ig.Match("web/app.js"))
	assert.True(t, ig.Match("docs/generated"))
	assert.True(t, ig.Match("docs/generated/api.md"))
	assert.False(t, ig.Match("docs/generated-notes.md"))
	assert.False(t, ig.Match("vendor/dep.go"), "re-included by !vendor")
	assert.True(t, ig.Match("node_modules/x"))
	assert.Equal(t, len(DefaultIgnorePatterns)+4, len(ig.Patterns()))

	only := ParseIgnore([]string{"tmp"})
	assert.True(t, only.Match("a/tmp/b"))
	assert.False(t, only.Match("node_modules"))
}

func TestGlob_CustomIgnore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "")
	writeFile(t, filepath.Join(dir, "gen", "api.go"), "")
	writeFile(t, filepath.Join(dir, "vendor", "dep.go"), "")

	got, err := Glob(context.Background(), dir, "**/*.go", 0, NewIgnore("gen", "!vendor"))
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "vendor/dep.go"}, got)

	matches, err := Grep(context.Background(), dir, "x", GrepOptions{Ignore: ParseIgnore(nil)})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
