package refs

import (
	"path/filepath"
	"testing"

	"reqtrace/internal/storage"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	if err := storage.NewDisk().Write(filepath.Join(root, filepath.FromSlash(rel)), []byte(content)); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

func TestFindFileReference(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.c", "int main(void) {\n  init_pump();\n  return 0;\n}\n")
	f := NewFinder(root, storage.NewDisk(), nil)

	path, line, err := f.FindFileReference("src/main.c", "")
	if err != nil {
		t.Fatalf("resolving without keyword: %v", err)
	}
	if path != "src/main.c" || line != 0 {
		t.Errorf("expected (src/main.c, 0), got (%s, %d)", path, line)
	}

	path, line, err = f.FindFileReference("src/main.c", "init_pump")
	if err != nil {
		t.Fatalf("resolving with keyword: %v", err)
	}
	if path != "src/main.c" || line != 2 {
		t.Errorf("expected keyword on line 2, got (%s, %d)", path, line)
	}
}

func TestFindFileReferenceNotFound(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.c", "int main(void) { return 0; }\n")
	f := NewFinder(root, storage.NewDisk(), nil)

	if _, _, err := f.FindFileReference("src/other.c", ""); err == nil {
		t.Error("expected error for missing file")
	}
	if _, _, err := f.FindFileReference("src/main.c", "no_such_symbol"); err == nil {
		t.Error("expected error for missing keyword")
	}
	if _, _, err := f.FindFileReference("src", ""); err == nil {
		t.Error("expected error for a directory path")
	}
}

func TestFindKeyword(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/pump.c", "// startup_sequence begins here\n")
	writeFile(t, root, "docs/startup_marker.txt", "notes\n")
	f := NewFinder(root, storage.NewDisk(), nil)

	path, line, err := f.FindKeyword("startup_sequence", "")
	if err != nil {
		t.Fatalf("finding keyword: %v", err)
	}
	if path != "src/pump.c" || line != 1 {
		t.Errorf("expected (src/pump.c, 1), got (%s, %d)", path, line)
	}

	// A keyword matching a filename resolves to that file.
	path, _, err = f.FindKeyword("startup_marker", "")
	if err != nil {
		t.Fatalf("finding by filename: %v", err)
	}
	if path != "docs/startup_marker.txt" {
		t.Errorf("expected filename match, got %s", path)
	}

	if _, _, err := f.FindKeyword("absent_everywhere", ""); err == nil {
		t.Error("expected error for an unfindable keyword")
	}
}

func TestFindKeywordExcludesOwnFile(t *testing.T) {
	root := t.TempDir()
	own := filepath.Join(root, "REQ001.yml")
	writeFile(t, root, "REQ001.yml", "ref: magic_word\n")
	f := NewFinder(root, storage.NewDisk(), nil)
	if _, _, err := f.FindKeyword("magic_word", own); err == nil {
		t.Error("expected the excluded file not to satisfy its own reference")
	}
}

func TestIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "build/out.c", "generated_symbol\n")
	writeFile(t, root, "src/lib.c", "generated_symbol\n")
	f := NewFinder(root, storage.NewDisk(), []string{"build"})

	path, _, err := f.FindKeyword("generated_symbol", "")
	if err != nil {
		t.Fatalf("finding keyword: %v", err)
	}
	if path != "src/lib.c" {
		t.Errorf("expected ignored directory to be skipped, got %s", path)
	}
	if _, _, err := f.FindFileReference("build/out.c", ""); err == nil {
		t.Error("expected ignored path not to resolve as a reference")
	}
}

func TestBinaryFilesNeverMatch(t *testing.T) {
	root := t.TempDir()
	if err := storage.NewDisk().Write(filepath.Join(root, "blob.bin"), []byte{0x00, 'k', 'e', 'y', 0x00}); err != nil {
		t.Fatalf("writing binary: %v", err)
	}
	f := NewFinder(root, storage.NewDisk(), nil)
	if _, _, err := f.FindKeyword("key", ""); err == nil {
		t.Error("expected binary content not to match")
	}
}

func TestStampFileTracksContent(t *testing.T) {
	root := t.TempDir()
	store := storage.NewDisk()
	path := filepath.Join(root, "file.txt")
	writeFile(t, root, "file.txt", "version one\n")
	a, err := StampFile(store, path)
	if err != nil {
		t.Fatalf("stamping: %v", err)
	}
	b, err := StampFile(store, path)
	if err != nil {
		t.Fatalf("re-stamping: %v", err)
	}
	if !a.Equal(b) {
		t.Error("expected stable stamp for unchanged content")
	}
	writeFile(t, root, "file.txt", "version two\n")
	c, err := StampFile(store, path)
	if err != nil {
		t.Fatalf("stamping changed file: %v", err)
	}
	if a.Equal(c) {
		t.Error("expected stamp to change with content")
	}
}
