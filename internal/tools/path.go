package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolvePath turns a tool path argument into a clean absolute path. Relative
// paths are taken from the workspace root; paths escaping it are rejected.
func ResolvePath(host Host, p string) (string, error) {
	root := filepath.Clean(host.Workspace())
	if p == "" || p == "." {
		return root, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the workspace", ErrInvalidArg, p)
	}
	return p, nil
}

// RelPath returns p relative to the workspace for display.
func RelPath(host Host, p string) string {
	rel, err := filepath.Rel(host.Workspace(), p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
