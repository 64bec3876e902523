package cachestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File keeps all entries in a single JSON document on disk. Writes replace
// the document atomically (temp file + rename) so a crash never leaves a
// half-written cache behind.
type File struct {
	path string
	mu   sync.Mutex
}

type fileDocument struct {
	Entries map[string]fileEntry `json:"entries"`
}

type fileEntry struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// NewFile returns a store backed by the JSON document at path. The file and
// its parent directory are created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the cache file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	e, ok := doc.Entries[key]
	if !ok {
		return nil, nil
	}
	return &Entry{Key: key, Payload: e.Payload, StoredAt: e.StoredAt}, nil
}

func (f *File) Set(_ context.Context, key string, payload []byte, storedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		// Unreadable documents are replaced rather than blocking every write.
		doc = &fileDocument{Entries: make(map[string]fileEntry)}
	}
	doc.Entries[key] = fileEntry{Payload: payload, StoredAt: storedAt}
	return f.save(doc)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Entries[key]; !ok {
		return nil
	}
	delete(doc.Entries, key)
	return f.save(doc)
}

func (f *File) KeysWithPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(doc.Entries))
	for k := range doc.Entries {
		entries[k] = Entry{}
	}
	return keysWithPrefix(entries, prefix), nil
}

func (f *File) Close() error { return nil }

// load reads the cache document. A missing file is an empty cache.
func (f *File) load() (*fileDocument, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileDocument{Entries: make(map[string]fileEntry)}, nil
		}
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing cache file: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]fileEntry)
	}
	return &doc, nil
}

// save writes the document to a temp file in the same directory, then
// renames it over the cache file.
func (f *File) save(doc *fileDocument) error {
	dir := filepath.Dir(f.path)
	//nolint:gosec // cache lives in the user's config directory, 0o755 is appropriate
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".version_cache_tmp_")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		_ = tmpFile.Close() // cleanup on error path
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), f.path); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}
