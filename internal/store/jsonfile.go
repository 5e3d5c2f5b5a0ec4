// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.astrophena.name/aocbot/internal/atomicio"
	"go.astrophena.name/aocbot/internal/filelock"
)

// JSONFile is a file-backed implementation of the [Store] interface.
//
// Every write replaces the file atomically, keeping a few backups of the
// previous versions next to it.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

type jsonStore struct {
	Data map[string]entry `json:"data"`
}

type entry struct {
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJSONFile creates a new [JSONFile] backed by the file at path. The file
// and its parent directory are created on first write.
func NewJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("store: empty file path")
	}
	s := &JSONFile{path: path}
	// Fail early on a corrupted file.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFile) load() (*jsonStore, error) {
	js := &jsonStore{Data: make(map[string]entry)}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return js, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, js); err != nil {
		return nil, err
	}
	if js.Data == nil {
		js.Data = make(map[string]entry)
	}
	return js, nil
}

// Get retrieves a value for a given key.
func (s *JSONFile) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	js, err := s.load()
	if err != nil {
		return nil, err
	}
	e, ok := js.Data[key]
	if !ok {
		return nil, nil
	}
	return e.Value, nil
}

// Set stores a value for a given key.
//
// Writers in other processes are excluded with a lock file next to the
// store file.
func (s *JSONFile) Set(_ context.Context, key string, val []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	lock, err := filelock.Acquire(s.path + ".lock")
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, lock.Release()) }()

	js, err := s.load()
	if err != nil {
		return err
	}
	js.Data[key] = entry{
		Value:     val,
		UpdatedAt: time.Now(),
	}

	b, err := json.MarshalIndent(js, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, b, 0o600)
}

// Close closes the file store.
func (s *JSONFile) Close() error { return nil }
