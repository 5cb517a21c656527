// Package vcs abstracts the version-control working copy that holds a
// reqtrace project. Backends are selected once, at tree-build time, by
// sniffing marker directories through a registry.
package vcs

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkingCopy is the capability interface the core invokes around
// persistence: locking before edits, tracking changes, and committing.
type WorkingCopy interface {
	// Root returns the working copy root directory.
	Root() string

	// Lock reserves a file for editing, on backends that support it.
	Lock(path string) error

	// Edit marks an existing tracked file as modified.
	Edit(path string) error

	// Add starts tracking a file.
	Add(path string) error

	// Delete stops tracking a file.
	Delete(path string) error

	// Commit records all outstanding changes.
	Commit(message string) error

	// Ignores returns glob patterns for paths the working copy ignores.
	Ignores() []string
}

// Factory builds a working copy rooted at path.
type Factory func(path string) (WorkingCopy, error)

// registry maps marker directory names to backend factories.
var registry = map[string]Factory{}

// Register adds a backend factory for a marker directory name, e.g.
// ".git". Later registrations replace earlier ones.
func Register(marker string, factory Factory) {
	registry[marker] = factory
}

// Markers returns the registered marker directory names.
func Markers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// FindRoot walks up from cwd until a directory containing a registered
// marker is found.
func FindRoot(cwd string) (string, error) {
	path, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}
	for {
		for marker := range registry {
			if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
				return path, nil
			}
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no working copy found from: %s", cwd)
		}
		path = parent
	}
}

// Load resolves the working copy for a root directory by sniffing
// marker directories. When no marker matches, a Null working copy is
// returned.
func Load(root string) (WorkingCopy, error) {
	for marker, factory := range registry {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			wc, err := factory(root)
			if err != nil {
				return nil, fmt.Errorf("loading %s working copy: %w", marker, err)
			}
			return wc, nil
		}
	}
	return NewNull(root), nil
}

// Null is the no-op working copy used outside any version control.
type Null struct {
	root string
}

// NewNull returns a working copy that tracks nothing.
func NewNull(root string) *Null { return &Null{root: root} }

// Root implements WorkingCopy.
func (n *Null) Root() string { return n.root }

// Lock implements WorkingCopy.
func (n *Null) Lock(string) error { return nil }

// Edit implements WorkingCopy.
func (n *Null) Edit(string) error { return nil }

// Add implements WorkingCopy.
func (n *Null) Add(string) error { return nil }

// Delete implements WorkingCopy.
func (n *Null) Delete(string) error { return nil }

// Commit implements WorkingCopy.
func (n *Null) Commit(string) error { return nil }

// Ignores implements WorkingCopy.
func (n *Null) Ignores() []string { return nil }
