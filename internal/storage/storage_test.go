package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocalSaveGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	path, err := store.Save("receipt.png", []byte("payload"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(path)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want payload", got)
	}

	if err := store.Delete(path); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Delete: %v", err)
	}
}

func TestSaveStripsDirectoryComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	path, err := store.Save("../escape.png", []byte("x"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Dir(path) != filepath.Clean(dir) {
		t.Errorf("Save() wrote outside base dir: %s", path)
	}
}
