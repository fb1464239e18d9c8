package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/recordsync/internal/record"
)

// FileStore keeps every collection in one JSON document. The parsed document
// is cached; Watch drops the cache when another process rewrites the file.
type FileStore struct {
	path string

	mu     sync.Mutex
	cached *document
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(key string) ([]record.Record, error) {
	if !validKey(key) {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.documentLocked()
	if err != nil {
		return nil, err
	}
	return doc.load(key)
}

func (s *FileStore) Save(key string, records []record.Record) error {
	if !validKey(key) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.documentLocked()
	if err != nil {
		return err
	}
	previous, hadPrevious := doc.Collections[key]
	if err := doc.save(key, records); err != nil {
		return err
	}
	if err := s.writeLocked(doc); err != nil {
		if hadPrevious {
			doc.Collections[key] = previous
		} else {
			delete(doc.Collections, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Flag(name string) (bool, error) {
	if !validKey(name) {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.documentLocked()
	if err != nil {
		return false, err
	}
	return doc.Flags[name], nil
}

func (s *FileStore) SetFlag(name string, value bool) error {
	if !validKey(name) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.documentLocked()
	if err != nil {
		return err
	}
	previous := doc.Flags[name]
	if value {
		doc.Flags[name] = true
	} else {
		delete(doc.Flags, name)
	}
	if err := s.writeLocked(doc); err != nil {
		if previous {
			doc.Flags[name] = true
		} else {
			delete(doc.Flags, name)
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// Invalidate forces the next access to re-read the file.
func (s *FileStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Watch invalidates the cache whenever the backing file is created, written,
// renamed over or removed. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			s.Invalidate()
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (s *FileStore) documentLocked() (*document, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.cached = newDocument()
			return s.cached, nil
		}
		return nil, err
	}
	doc := newDocument()
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, err
		}
	}
	if doc.Collections == nil {
		doc.Collections = map[string]json.RawMessage{}
	}
	if doc.Flags == nil {
		doc.Flags = map[string]bool{}
	}
	s.cached = doc
	return doc, nil
}

func (s *FileStore) writeLocked(doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
