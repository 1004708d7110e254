// Package storage keeps uploaded receipt documents on disk for the lifetime
// of one session. Files are scoped resources: saved on arrival and deleted
// on every exit path of the owning session.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage is the interface the session layer uses for temporary documents.
type Storage interface {
	// Save writes a file and returns the path used to address it later.
	Save(filename string, data []byte) (string, error)

	// Get reads a previously saved file.
	Get(path string) ([]byte, error)

	// Delete removes a file.
	Delete(path string) error
}

// Local implements Storage on the local filesystem.
type Local struct {
	basePath string
}

// NewLocal creates the upload directory if needed.
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Local{basePath: basePath}, nil
}

func (l *Local) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

func (l *Local) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *Local) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
