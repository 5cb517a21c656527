package vcs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func init() {
	Register(".git", func(path string) (WorkingCopy, error) {
		return OpenGit(path)
	})
}

// Git is the working copy backend for git repositories, built on
// go-git.
type Git struct {
	root string
	repo *git.Repository
}

// OpenGit opens the git repository rooted at path.
func OpenGit(root string) (*Git, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Git{root: root, repo: repo}, nil
}

// Root implements WorkingCopy.
func (g *Git) Root() string { return g.root }

// Lock implements WorkingCopy. Git has no file locking; this is a
// no-op kept for the capability interface.
func (g *Git) Lock(string) error { return nil }

// Edit implements WorkingCopy. Git detects modifications by content, so
// marking a file as modified stages it.
func (g *Git) Edit(path string) error { return g.stage(path) }

// Add implements WorkingCopy.
func (g *Git) Add(path string) error { return g.stage(path) }

// Delete implements WorkingCopy.
func (g *Git) Delete(path string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	rel, err := g.rel(path)
	if err != nil {
		return err
	}
	if _, err := wt.Remove(rel); err != nil {
		return fmt.Errorf("untracking %s: %w", rel, err)
	}
	return nil
}

// Commit implements WorkingCopy.
func (g *Git) Commit(message string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	_, err = wt.Commit(message, &git.CommitOptions{
		All: true,
		Author: &object.Signature{
			Name: "reqtrace",
			When: time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Ignores implements WorkingCopy, reading patterns from the root
// .gitignore.
func (g *Git) Ignores() []string {
	file, err := os.Open(filepath.Join(g.root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

func (g *Git) stage(path string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	rel, err := g.rel(path)
	if err != nil {
		return err
	}
	if _, err := wt.Add(rel); err != nil {
		return fmt.Errorf("staging %s: %w", rel, err)
	}
	return nil
}

func (g *Git) rel(path string) (string, error) {
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return "", fmt.Errorf("resolving %s against %s: %w", path, g.root, err)
	}
	return filepath.ToSlash(rel), nil
}
