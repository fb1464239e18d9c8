// Package localstore persists whole collections of records under string keys.
// Every backend treats a key that was never written as an empty collection.
package localstore

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/agentworkforce/recordsync/internal/record"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

type Store interface {
	Load(key string) ([]record.Record, error)
	Save(key string, records []record.Record) error
	Flag(name string) (bool, error)
	SetFlag(name string, value bool) error
	Close() error
}

// document is the serialized shape shared by the memory and file backends.
type document struct {
	Collections map[string]json.RawMessage `json:"collections"`
	Flags       map[string]bool            `json:"flags,omitempty"`
}

func newDocument() *document {
	return &document{
		Collections: map[string]json.RawMessage{},
		Flags:       map[string]bool{},
	}
}

func (d *document) load(key string) ([]record.Record, error) {
	raw, ok := d.Collections[key]
	if !ok || len(raw) == 0 {
		return []record.Record{}, nil
	}
	return decodeCollection(raw)
}

func (d *document) save(key string, records []record.Record) error {
	raw, err := encodeCollection(records)
	if err != nil {
		return err
	}
	d.Collections[key] = raw
	return nil
}

func encodeCollection(records []record.Record) ([]byte, error) {
	if records == nil {
		records = []record.Record{}
	}
	return json.Marshal(records)
}

func decodeCollection(raw []byte) ([]record.Record, error) {
	var records []record.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []record.Record{}
	}
	return records, nil
}

func validKey(key string) bool {
	return strings.TrimSpace(key) != ""
}

type MemoryStore struct {
	mu  sync.Mutex
	doc *document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: newDocument()}
}

func (s *MemoryStore) Load(key string) ([]record.Record, error) {
	if !validKey(key) {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.load(key)
}

func (s *MemoryStore) Save(key string, records []record.Record) error {
	if !validKey(key) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.save(key, records)
}

func (s *MemoryStore) Flag(name string) (bool, error) {
	if !validKey(name) {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Flags[name], nil
}

func (s *MemoryStore) SetFlag(name string, value bool) error {
	if !validKey(name) {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value {
		s.doc.Flags[name] = true
	} else {
		delete(s.doc.Flags, name)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
