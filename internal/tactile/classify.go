package tactile

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// CommandClass tells whether a command may change repository state.
type CommandClass int

const (
	ReadOnly CommandClass = iota
	Mutating
)

func (c CommandClass) String() string {
	if c == Mutating {
		return "mutating"
	}
	return "read-only"
}

var (
	// ErrUnterminatedQuote is returned by ParseArgs for unbalanced quotes.
	ErrUnterminatedQuote = errors.New("unterminated quote")
	// ErrShellOperator is returned when a command contains shell syntax.
	ErrShellOperator = errors.New("shell operator not allowed")
)

// ParseArgs splits a command line into arguments, honouring single and
// double quotes. Quotes are removed; there are no escape sequences.
func ParseArgs(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inSingle, inDouble, started := false, false, false

	for _, c := range command {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			started = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
			started = true
		case unicode.IsSpace(c) && !inSingle && !inDouble:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(c)
			started = true
		}
	}
	if inSingle || inDouble {
		return nil, ErrUnterminatedQuote
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}

// CheckShellOperators rejects pipes, redirection, command substitution,
// chaining and bare newlines outside quoted strings.
func CheckShellOperators(command string) error {
	inSingle, inDouble := false, false
	chars := []rune(command)
	for i, c := range chars {
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case c == '|' || c == ';' || c == '`' || c == '>' || c == '<':
			return fmt.Errorf("%w: %q", ErrShellOperator, c)
		case c == '$' && i+1 < len(chars) && chars[i+1] == '(':
			return fmt.Errorf("%w: \"$(\"", ErrShellOperator)
		case c == '&' && i+1 < len(chars) && chars[i+1] == '&':
			return fmt.Errorf("%w: \"&&\"", ErrShellOperator)
		case c == '\n' || c == '\r':
			return fmt.Errorf("%w: newline outside quotes", ErrShellOperator)
		}
	}
	return nil
}

// readOnlyGit lists subcommands that never change the repository.
var readOnlyGit = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "blame": true,
	"ls-files": true, "ls-tree": true, "rev-parse": true, "describe": true,
	"shortlog": true, "grep": true, "cat-file": true, "rev-list": true,
	"merge-base": true, "name-rev": true, "whatchanged": true, "help": true,
	"version": true,
}

// listingFlags are flags that keep branch/tag/remote/stash in listing mode.
var listingFlags = map[string]bool{
	"-a": true, "--all": true, "-r": true, "--remotes": true, "-v": true, "-vv": true,
	"--verbose": true, "-l": true, "--list": true, "--show-current": true,
	"--merged": true, "--no-merged": true,
}

// ParseGit validates a git command line ("git status -s" or "status -s")
// and returns its arguments without the leading "git".
func ParseGit(command string) ([]string, error) {
	if err := CheckShellOperators(command); err != nil {
		return nil, err
	}
	args, err := ParseArgs(command)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 && args[0] == "git" {
		args = args[1:]
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty git command")
	}
	return args, nil
}

// ClassifyGit decides whether git arguments (without "git") are read-only.
// Unknown subcommands are treated as mutating.
func ClassifyGit(args []string) CommandClass {
	// skip global options such as -C <dir> or --no-pager
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		if args[0] == "-C" || args[0] == "-c" {
			if len(args) < 2 {
				return Mutating
			}
			args = args[2:]
			continue
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return ReadOnly
	}
	sub, rest := args[0], args[1:]
	if readOnlyGit[sub] {
		return ReadOnly
	}
	switch sub {
	case "branch", "tag", "remote":
		return listingOnly(sub, rest)
	case "stash":
		if len(rest) > 0 && (rest[0] == "list" || rest[0] == "show") {
			return ReadOnly
		}
		return Mutating
	case "config":
		for _, a := range rest {
			if a == "--get" || a == "--get-all" || a == "--list" || a == "-l" {
				return ReadOnly
			}
		}
		return Mutating
	case "reflog":
		if len(rest) == 0 || rest[0] == "show" {
			return ReadOnly
		}
		return Mutating
	}
	return Mutating
}

func listingOnly(sub string, rest []string) CommandClass {
	if sub == "remote" && len(rest) > 0 && (rest[0] == "show" || rest[0] == "get-url") {
		return ReadOnly
	}
	for _, a := range rest {
		if !listingFlags[a] {
			// a bare name creates a branch or tag; other flags rename or delete
			return Mutating
		}
	}
	return ReadOnly
}
