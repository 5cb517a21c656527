package vcs

import (
	"os"
	"path/filepath"
	"testing"

	git "github.com/go-git/go-git/v5"
)

func TestMarkersIncludeGit(t *testing.T) {
	found := false
	for _, m := range Markers() {
		if m == ".git" {
			found = true
		}
	}
	if !found {
		t.Error("expected .git marker to be registered")
	}
}

func TestFindRootWalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("creating marker: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("creating nested dirs: %v", err)
	}
	got, err := FindRoot(nested)
	if err != nil {
		t.Fatalf("finding root: %v", err)
	}
	if got != root {
		t.Errorf("expected %s, got %s", root, got)
	}
}

func TestFindRootFailsWithoutMarker(t *testing.T) {
	if _, err := FindRoot(t.TempDir()); err == nil {
		t.Error("expected error when no marker directory exists")
	}
}

func TestLoadFallsBackToNull(t *testing.T) {
	root := t.TempDir()
	wc, err := Load(root)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if _, ok := wc.(*Null); !ok {
		t.Errorf("expected Null backend, got %T", wc)
	}
	if wc.Root() != root {
		t.Errorf("expected root %s, got %s", root, wc.Root())
	}
	if err := wc.Edit("anything"); err != nil {
		t.Errorf("expected no-op edit, got %v", err)
	}
}

func TestLoadDetectsGit(t *testing.T) {
	root := t.TempDir()
	if _, err := git.PlainInit(root, false); err != nil {
		t.Fatalf("initializing repository: %v", err)
	}
	wc, err := Load(root)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	g, ok := wc.(*Git)
	if !ok {
		t.Fatalf("expected Git backend, got %T", wc)
	}
	path := filepath.Join(root, "file.txt")
	if err := os.WriteFile(path, []byte("tracked\n"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if err := g.Add(path); err != nil {
		t.Fatalf("staging: %v", err)
	}
	if err := g.Commit("add file"); err != nil {
		t.Fatalf("committing: %v", err)
	}
}

func TestGitIgnores(t *testing.T) {
	root := t.TempDir()
	if _, err := git.PlainInit(root, false); err != nil {
		t.Fatalf("initializing repository: %v", err)
	}
	ignore := "# comment\n\nbuild/\n*.tmp\n"
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(ignore), 0o644); err != nil {
		t.Fatalf("writing .gitignore: %v", err)
	}
	wc, err := Load(root)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	patterns := wc.Ignores()
	if len(patterns) != 2 || patterns[0] != "build/" || patterns[1] != "*.tmp" {
		t.Errorf("expected cleaned patterns, got %v", patterns)
	}
}
