// Package storage defines the byte-level file access collaborator used
// by the core. The core performs no file-system policy of its own;
// everything goes through this interface so tests and alternative
// backends can substitute it.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Storage is byte-level read/write access over paths.
type Storage interface {
	// Read returns the full contents of the file at path.
	Read(path string) ([]byte, error)

	// Write replaces the contents of the file at path, creating parent
	// directories as needed.
	Write(path string, data []byte) error

	// Exists reports whether a file or directory exists at path.
	Exists(path string) bool

	// IsDir reports whether path exists and is a directory.
	IsDir(path string) bool

	// ListDir returns the sorted entry names of a directory.
	ListDir(path string) ([]string, error)

	// Remove deletes the file at path.
	Remove(path string) error

	// RemoveDir deletes a directory if it is empty.
	RemoveDir(path string) error
}

// Disk is the default Storage backed by the local filesystem.
type Disk struct{}

// NewDisk returns a filesystem-backed Storage.
func NewDisk() Disk { return Disk{} }

// Read implements Storage.
func (Disk) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Write implements Storage.
func (Disk) Write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Exists implements Storage.
func (Disk) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir implements Storage.
func (Disk) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListDir implements Storage.
func (Disk) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove implements Storage.
func (Disk) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RemoveDir implements Storage.
func (Disk) RemoveDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	if len(entries) > 0 {
		return nil // only empty directories are cleaned up
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
