// Package world provides the filesystem collaborators used by panels:
// file reads, directory trees, glob and grep searches, and an fsnotify
// backed watcher.
package world

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"ctxpilot/internal/logging"
)

// MaxFileBytes is the largest file ReadFile will load.
const MaxFileBytes = 1 << 20

var (
	// ErrBinaryFile is returned for files that are not text.
	ErrBinaryFile = errors.New("binary file")
	// ErrFileTooLarge is returned for files over MaxFileBytes.
	ErrFileTooLarge = errors.New("file too large")
)

// File is the result of ReadFile.
type File struct {
	Path  string
	Text  string
	Hash  string
	Size  int64
	Lines int
}

// Hash returns the content hash used across collaborators.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// ReadFile loads a text file with its content hash.
func ReadFile(p string) (File, error) {
	info, err := os.Stat(p)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", p)
	}
	if info.Size() > MaxFileBytes {
		return File{}, fmt.Errorf("%s: %w (%d bytes)", p, ErrFileTooLarge, info.Size())
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return File{}, err
	}
	if !IsText(data) {
		return File{}, fmt.Errorf("%s: %w", p, ErrBinaryFile)
	}
	text := string(data)
	lines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		lines++
	}
	return File{Path: p, Text: text, Hash: Hash(data), Size: info.Size(), Lines: lines}, nil
}

// IsText reports whether data looks like text.
func IsText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// =============================================================================
// TREE
// =============================================================================

// TreeOptions configures Tree.
type TreeOptions struct {
	MaxDepth   int // 0 = unlimited
	MaxEntries int // 0 = 500
	Ignore     *Ignore
}

// Tree renders a directory as an indented listing, directories first.
func Tree(ctx context.Context, root string, opts TreeOptions) (string, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", root)
	}

	var b strings.Builder
	b.WriteString(filepath.Base(filepath.Clean(root)) + "/\n")
	count := 0
	truncated := false

	var walk func(dir, rel string, depth int) error
	walk = func(dir, rel string, depth int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].IsDir() != entries[j].IsDir() {
				return entries[i].IsDir()
			}
			return entries[i].Name() < entries[j].Name()
		})
		for _, e := range entries {
			childRel := path.Join(rel, e.Name())
			if opts.Ignore.Match(childRel) {
				continue
			}
			if count >= opts.MaxEntries {
				truncated = true
				return nil
			}
			count++
			b.WriteString(strings.Repeat("  ", depth+1))
			b.WriteString(e.Name())
			if e.IsDir() {
				b.WriteString("/\n")
				if opts.MaxDepth == 0 || depth+1 < opts.MaxDepth {
					if err := walk(filepath.Join(dir, e.Name()), childRel, depth+1); err != nil {
						return err
					}
				}
				continue
			}
			b.WriteByte('\n')
		}
		return nil
	}
	if err := walk(root, "", 0); err != nil {
		return "", err
	}
	if truncated {
		fmt.Fprintf(&b, "... truncated at %d entries\n", opts.MaxEntries)
	}
	return b.String(), nil
}

// =============================================================================
// GLOB
// =============================================================================

// MatchGlob matches a slash-separated relative path against a pattern in
// which "**" matches any number of path segments.
func MatchGlob(pattern, rel string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(filepath.ToSlash(rel), "/"))
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pat[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], parts[0]); !ok {
			return false
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0
}

// ValidGlob reports whether pattern is a well-formed glob.
func ValidGlob(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), "")
	return err == nil
}

// Glob lists files under base whose relative path matches pattern.
func Glob(ctx context.Context, base, pattern string, maxResults int, ignore *Ignore) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if !ValidGlob(pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", pattern)
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	logging.ToolsDebug("glob: pattern=%s, base=%s", pattern, base)

	var matches []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(base, p)
		if rel == "." {
			return nil
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if MatchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, filepath.ToSlash(rel))
			if len(matches) >= maxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// =============================================================================
// GREP
// =============================================================================

// GrepOptions configures Grep.
type GrepOptions struct {
	FileGlob     string
	IgnoreCase   bool
	MaxResults   int
	ContextLines int
	Ignore       *Ignore
}

// GrepMatch is one matching line.
type GrepMatch struct {
	File       string
	LineNumber int
	Line       string
	Context    []string
}

// ValidRegexp checks that pattern compiles.
func ValidRegexp(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

// Grep searches files under root for a regular expression.
func Grep(ctx context.Context, root, pattern string, opts GrepOptions) ([]GrepMatch, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if opts.IgnoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("path not found: %w", err)
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, p)
			if rel != "." && opts.Ignore.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if opts.FileGlob != "" {
				if ok, _ := filepath.Match(opts.FileGlob, d.Name()); !ok {
					return nil
				}
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		files = []string{root}
	}

	var matches []GrepMatch
	for _, file := range files {
		if len(matches) >= opts.MaxResults {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileMatches, err := searchFile(file, re, opts.ContextLines, opts.MaxResults-len(matches))
		if err != nil {
			continue // Skip files with errors
		}
		for i := range fileMatches {
			if rel, err := filepath.Rel(root, fileMatches[i].File); err == nil && info.IsDir() {
				fileMatches[i].File = filepath.ToSlash(rel)
			}
		}
		matches = append(matches, fileMatches...)
	}

	logging.ToolsDebug("grep completed: %s (%d matches)", pattern, len(matches))
	return matches, nil
}

// FormatGrep renders matches as "file:line: text".
func FormatGrep(matches []GrepMatch) string {
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.LineNumber, m.Line)
		for _, c := range m.Context {
			fmt.Fprintf(&sb, "  %s\n", c)
		}
	}
	return sb.String()
}

func searchFile(p string, re *regexp.Regexp, contextLines, maxMatches int) ([]GrepMatch, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []GrepMatch
	var lines []string

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		lines = append(lines, line)

		if re.MatchString(line) {
			match := GrepMatch{
				File:       p,
				LineNumber: lineNum,
				Line:       strings.TrimSpace(line),
			}
			if contextLines > 0 {
				start := max(len(lines)-contextLines-1, 0)
				for i := start; i < len(lines)-1; i++ {
					match.Context = append(match.Context, fmt.Sprintf("-%d: %s", len(lines)-1-i, strings.TrimSpace(lines[i])))
				}
			}
			matches = append(matches, match)
			if len(matches) >= maxMatches {
				break
			}
		}

		// Keep only enough lines for context
		if contextLines > 0 && len(lines) > contextLines+1 {
			lines = lines[1:]
		}
	}

	return matches, scanner.Err()
}
