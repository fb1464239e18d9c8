package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultSpoolCapacity = 1024
	journalRetryDelay    = 50 * time.Millisecond
)

// journal persists the pending ops of a spool. Every mutation is written
// through before it becomes visible to Dequeue.
type journal interface {
	load() ([]Op, error)
	save(ops []Op) error
}

// spool is a bounded FIFO of pending ops. Enqueueing an op drops the pending
// ops it makes pointless: a delete supersedes earlier inserts and updates of
// the same record, and delete_all or replace supersedes everything pending
// for the collection.
type spool struct {
	capacity int
	journal  journal
	ready    chan struct{}

	mu    sync.Mutex
	items []Op
}

func newSpool(capacity int, j journal) (*spool, error) {
	if capacity <= 0 {
		capacity = defaultSpoolCapacity
	}
	s := &spool{capacity: capacity, journal: j, ready: make(chan struct{}, 1)}
	if j == nil {
		return s, nil
	}
	items, err := j.load()
	if err != nil {
		return nil, err
	}
	if len(items) > capacity {
		items = items[len(items)-capacity:]
		if err := j.save(items); err != nil {
			return nil, err
		}
	}
	s.items = items
	return s, nil
}

func NewMemorySpool(capacity int) Spool {
	s, _ := newSpool(capacity, nil)
	return s
}

// NewFileSpool keeps pending ops in a JSON file at path so a restart does not
// lose what was enqueued but not yet dispatched.
func NewFileSpool(path string, capacity int) (Spool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return newSpool(capacity, fileJournal{path: path})
}

func (s *spool) TryEnqueue(op Op) bool {
	if strings.TrimSpace(op.OpID) == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(supersede(s.items, op), op)
	if len(next) > s.capacity {
		return false
	}
	if s.journal != nil {
		if err := s.journal.save(next); err != nil {
			return false
		}
	}
	s.items = next
	s.signal()
	return true
}

func (s *spool) Dequeue(ctx context.Context) (Op, bool) {
	for {
		op, ok, wait := s.pop()
		if ok {
			return op, true
		}
		select {
		case <-ctx.Done():
			return Op{}, false
		case <-s.ready:
		case <-wait:
		}
	}
}

// pop removes the head op. When nothing could be taken it returns a channel
// to wait on besides ready: a retry timer after a failed journal write, nil
// when the spool is empty.
func (s *spool) pop() (Op, bool, <-chan time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return Op{}, false, nil
	}
	rest := s.items[1:]
	if s.journal != nil {
		if err := s.journal.save(rest); err != nil {
			return Op{}, false, time.After(journalRetryDelay)
		}
	}
	op := s.items[0]
	s.items = rest
	if len(rest) > 0 {
		s.signal()
	}
	return op, true, nil
}

func (s *spool) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *spool) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *spool) Capacity() int {
	return s.capacity
}

func (s *spool) Snapshot() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.items...)
}

func (s *spool) Close() error {
	return nil
}

// supersede returns a copy of pending without the ops that op makes
// obsolete.
func supersede(pending []Op, op Op) []Op {
	out := make([]Op, 0, len(pending)+1)
	for _, p := range pending {
		if p.Collection == op.Collection && obsoletedBy(p, op) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func obsoletedBy(pending, next Op) bool {
	switch next.Action {
	case ActionDeleteAll, ActionReplace:
		return true
	case ActionDelete:
		if next.RecordID == "" || pending.RecordID != next.RecordID {
			return false
		}
		return pending.Action == ActionInsert || pending.Action == ActionUpdate
	default:
		return false
	}
}

type fileJournal struct {
	path string
}

type fileJournalDoc struct {
	Items []Op `json:"items"`
}

func (j fileJournal) load() ([]Op, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileJournalDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Items, nil
}

func (j fileJournal) save(ops []Op) error {
	data, err := json.Marshal(fileJournalDoc{Items: ops})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
