package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultLockTimeout = 5 * time.Second

// FileBackend keeps every key in a single JSON document. Each mutation is a
// locked read-modify-write that lands through an AtomicWriter, so concurrent
// CLI invocations sharing the file see whole documents only.
// Values are stored as strings and must be UTF-8 text.
type FileBackend struct {
	path        string
	lockTimeout time.Duration
	mu          sync.Mutex
}

type fileDocument struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// NewFileBackend creates a backend on path. The file is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, lockTimeout: defaultLockTimeout}
}

// Path returns the document location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, &StorageError{Op: "get", Backend: BackendFile, Key: key, Err: err}
	}
	v, ok := doc.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (f *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return &StorageError{Op: "set", Backend: BackendFile, Err: ErrInvalidInput}
	}
	return f.update("set", key, func(entries map[string]string) {
		entries[key] = string(value)
	})
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	return f.update("delete", key, func(entries map[string]string) {
		delete(entries, key)
	})
}

func (f *FileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, &StorageError{Op: "keys", Backend: BackendFile, Err: err}
	}
	var keys []string
	for k := range doc.Entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) update(op, key string, mutate func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock := NewFileLock(f.path)
	if err := lock.Lock(f.lockTimeout); err != nil {
		return &StorageError{Op: op, Backend: BackendFile, Key: key, Err: err}
	}
	defer lock.Unlock()

	doc, err := f.read()
	if err != nil {
		// A corrupt document is replaced rather than wedging every write.
		if !errors.Is(err, ErrCorrupt) {
			return &StorageError{Op: op, Backend: BackendFile, Key: key, Err: err}
		}
		doc = &fileDocument{Entries: map[string]string{}}
	}

	mutate(doc.Entries)
	doc.Version = 1

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &StorageError{Op: op, Backend: BackendFile, Key: key, Err: err}
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return &StorageError{Op: op, Backend: BackendFile, Key: key, Err: err}
	}
	return nil
}

// read must be called with f.mu held. A missing file is an empty document.
func (f *FileBackend) read() (*fileDocument, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileDocument{Entries: map[string]string{}}, nil
		}
		return nil, err
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return &doc, nil
}
