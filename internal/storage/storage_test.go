package storage

import (
	"path/filepath"
	"testing"
)

func TestDiskReadWrite(t *testing.T) {
	store := NewDisk()
	path := filepath.Join(t.TempDir(), "deep", "nested", "file.txt")
	if err := store.Write(path, []byte("hello")); err != nil {
		t.Fatalf("writing: %v", err)
	}
	data, err := store.Read(path)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}
	if !store.Exists(path) || store.IsDir(path) {
		t.Error("expected existing regular file")
	}
}

func TestDiskListDir(t *testing.T) {
	store := NewDisk()
	dir := t.TempDir()
	for _, name := range []string{"b.yml", "a.yml"} {
		if err := store.Write(filepath.Join(dir, name), nil); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	names, err := store.ListDir(dir)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(names) != 2 || names[0] != "a.yml" || names[1] != "b.yml" {
		t.Errorf("expected sorted listing, got %v", names)
	}
}

func TestDiskRemove(t *testing.T) {
	store := NewDisk()
	dir := t.TempDir()
	sub := filepath.Join(dir, "doc")
	path := filepath.Join(sub, "file.txt")
	if err := store.Write(path, []byte("x")); err != nil {
		t.Fatalf("writing: %v", err)
	}
	if err := store.Remove(path); err != nil {
		t.Fatalf("removing file: %v", err)
	}
	if store.Exists(path) {
		t.Error("expected file to be gone")
	}
	if err := store.RemoveDir(sub); err != nil {
		t.Fatalf("removing empty dir: %v", err)
	}
	if store.Exists(sub) {
		t.Error("expected directory to be gone")
	}
}
