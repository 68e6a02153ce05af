// Package security guards the filesystem operations the pipeline performs
// on paths built from configuration values.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path built from configuration resolves
// outside the directory it must stay in.
var ErrPathEscape = errors.New("path escapes directory")

// canonical returns the absolute, symlink-resolved form of path. When path
// does not exist yet, its deepest existing ancestor is resolved and the
// remaining components are appended.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rest := ""
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// ValidateChildDir checks that child lies strictly inside root once both are
// resolved, following symlinks. Use it before removing or recreating a
// directory whose name came from configuration.
func ValidateChildDir(child, root string) error {
	c, err := canonical(child)
	if err != nil {
		return err
	}
	r, err := canonical(root)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(r, c)
	if err != nil {
		return fmt.Errorf("%w: %s not under %s: %v", ErrPathEscape, child, root, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s must be a subdirectory of %s", ErrPathEscape, child, root)
	}
	return nil
}
