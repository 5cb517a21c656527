// Package refs locates and fingerprints the external files that items
// reference.
package refs

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"

	"reqtrace/internal/diag"
	"reqtrace/internal/storage"
	"reqtrace/internal/types"
)

// Finder resolves item references against a project root. Paths in
// ignore patterns and results use forward slashes relative to the root.
type Finder struct {
	root    string
	store   storage.Storage
	ignores []string
}

// NewFinder returns a finder rooted at root. The ignore patterns come
// from the working copy backend plus any caller additions.
func NewFinder(root string, store storage.Storage, ignores []string) *Finder {
	return &Finder{root: root, store: store, ignores: ignores}
}

// FindFileReference resolves a reference entry: the file at relPath
// must exist, and when keyword is non-empty its first occurrence
// determines the returned line number. Line numbers start at 1; a
// keyword-less match reports line 0.
func (f *Finder) FindFileReference(relPath, keyword string) (string, int, error) {
	relPath = filepath.ToSlash(relPath)
	if f.ignored(relPath) {
		return "", 0, diag.Reff(relPath, "reference not found: %s", relPath)
	}
	full := filepath.Join(f.root, filepath.FromSlash(relPath))
	if !f.store.Exists(full) || f.store.IsDir(full) {
		return "", 0, diag.Reff(relPath, "reference not found: %s", relPath)
	}
	if keyword == "" {
		return relPath, 0, nil
	}
	line, ok, err := f.findKeywordInFile(full, keyword)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, diag.Reff(relPath, "reference not found: keyword %q in %s", keyword, relPath)
	}
	return relPath, line, nil
}

// FindKeyword resolves a legacy reference: the keyword names either a
// file (matched by name) or text that appears in some file under the
// root. Files under excluding are never matched, which keeps an item
// from referencing its own record.
func (f *Finder) FindKeyword(keyword, excluding string) (string, int, error) {
	if keyword == "" {
		return "", 0, diag.Reff(keyword, "empty reference keyword")
	}
	var found string
	var foundLine int
	err := f.walk("", func(relPath string) error {
		if found != "" {
			return nil
		}
		if excluding != "" && filepath.Join(f.root, filepath.FromSlash(relPath)) == excluding {
			return nil
		}
		name := relPath[strings.LastIndex(relPath, "/")+1:]
		if name == keyword || strings.TrimSuffix(name, filepath.Ext(name)) == keyword {
			found, foundLine = relPath, 0
			return nil
		}
		line, ok, err := f.findKeywordInFile(filepath.Join(f.root, filepath.FromSlash(relPath)), keyword)
		if err != nil {
			return err
		}
		if ok {
			found, foundLine = relPath, line
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	if found == "" {
		return "", 0, diag.Reff(keyword, "reference not found: %s", keyword)
	}
	return found, foundLine, nil
}

// findKeywordInFile returns the 1-based line of the first keyword
// occurrence. Binary files never match.
func (f *Finder) findKeywordInFile(path, keyword string) (int, bool, error) {
	data, err := f.store.Read(path)
	if err != nil {
		return 0, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return 0, false, nil
	}
	pattern, err := keywordPattern(keyword)
	if err != nil {
		return 0, false, err
	}
	for i, line := range strings.Split(string(data), "\n") {
		if pattern.MatchString(line) {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// keywordPattern matches the keyword on a word boundary or adjacent to
// a non-word character, so punctuation-heavy keywords still anchor.
func keywordPattern(keyword string) (*regexp.Regexp, error) {
	expr := `(\b|\W)` + regexp.QuoteMeta(keyword) + `(\b|\W)`
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("keyword %q: %w", keyword, err)
	}
	return pattern, nil
}

// walk visits every non-ignored file below the root, depth first.
func (f *Finder) walk(rel string, fn func(relPath string) error) error {
	dir := f.root
	if rel != "" {
		dir = filepath.Join(f.root, filepath.FromSlash(rel))
	}
	names, err := f.store.ListDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, name := range names {
		child := name
		if rel != "" {
			child = rel + "/" + name
		}
		if f.ignored(child) {
			continue
		}
		if f.store.IsDir(filepath.Join(f.root, filepath.FromSlash(child))) {
			if err := f.walk(child, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(child); err != nil {
			return err
		}
	}
	return nil
}

// ignored reports whether a slash-relative path matches any ignore
// pattern. A bare name pattern matches at any depth.
func (f *Finder) ignored(relPath string) bool {
	return Ignored(f.ignores, relPath)
}

// Ignored reports whether a slash-relative path matches any of the
// ignore patterns. Patterns without a separator also match the base
// name alone.
func Ignored(patterns []string, relPath string) bool {
	base := relPath[strings.LastIndex(relPath, "/")+1:]
	if base == ".git" || base == ".hg" || base == ".svn" {
		return true
	}
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
		if pattern == "" {
			continue
		}
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match(pattern, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// StampFile fingerprints a referenced file's full contents.
func StampFile(store storage.Storage, path string) (types.Stamp, error) {
	data, err := store.Read(path)
	if err != nil {
		return types.Stamp{}, fmt.Errorf("stamping %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return types.StampFromString(fmt.Sprintf("%x", sum)), nil
}
