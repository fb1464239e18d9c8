// Package syncengine commits record writes to the local store and mirrors
// them to the remote store, and pulls the remote store back down on
// hydration.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/recordsync/internal/localstore"
	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/record"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConfigured = errors.New("remote not configured")
)

type Options struct {
	Store     localstore.Store
	Namespace *naming.Namespace
	// Remote may be nil, in which case the engine runs local-only.
	Remote postgrest.API
	// Queue carries mirror ops. Nil means an outbox.Immediate over a Mirror
	// built from Remote and Namespace.
	Queue   outbox.Queue
	Context *SyncContext
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
	// Seeds are written by Init to collections that hold no records yet.
	Seeds   map[string][]record.Record
	Renames []Rename
}

type Engine struct {
	store   localstore.Store
	ns      *naming.Namespace
	remote  postgrest.API
	queue   outbox.Queue
	syncCtx *SyncContext
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	seeds   map[string][]record.Record
	renames []Rename

	// mu serializes read-modify-write cycles on the local store.
	mu sync.Mutex

	hooksMu sync.Mutex
	hooks   []HydrationHook
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	ns := opts.Namespace
	if ns == nil {
		ns = naming.DefaultNamespace()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := opts.Queue
	if queue == nil {
		queue = outbox.NewImmediate(NewMirror(opts.Remote, ns, logger).Apply)
	}
	syncCtx := opts.Context
	if syncCtx == nil {
		syncCtx = NewSyncContext(opts.Store, nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		store:   opts.Store,
		ns:      ns,
		remote:  opts.Remote,
		queue:   queue,
		syncCtx: syncCtx,
		logger:  logger,
		now:     now,
		newID:   newID,
		seeds:   opts.Seeds,
		renames: append([]Rename(nil), opts.Renames...),
	}, nil
}

func (e *Engine) Store() localstore.Store      { return e.store }
func (e *Engine) Namespace() *naming.Namespace { return e.ns }
func (e *Engine) Remote() postgrest.API        { return e.remote }
func (e *Engine) Context() *SyncContext        { return e.syncCtx }
func (e *Engine) Logger() *slog.Logger         { return e.logger }

func (e *Engine) OrganizationID() string {
	return e.syncCtx.OrganizationID()
}

// Timestamp renders the engine clock the way records store it.
func (e *Engine) Timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// List returns a copy of a collection.
func (e *Engine) List(collection string) ([]record.Record, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, ErrInvalidInput
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.store.Load(collection)
	if err != nil {
		return nil, err
	}
	return record.CloneAll(records), nil
}

func (e *Engine) Get(collection, id string) (record.Record, error) {
	records, err := e.List(collection)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// Modify runs fn over a collection under the engine lock and saves the
// result when fn reports a change. Nothing is mirrored.
func (e *Engine) Modify(collection string, fn func(records []record.Record) ([]record.Record, bool, error)) error {
	if strings.TrimSpace(collection) == "" || fn == nil {
		return ErrInvalidInput
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.store.Load(collection)
	if err != nil {
		return err
	}
	next, changed, err := fn(records)
	if err != nil || !changed {
		return err
	}
	return e.store.Save(collection, next)
}

// Add stores a new record and mirrors an insert. The id is generated when
// absent; createdAt and updatedAt are set to now.
func (e *Engine) Add(collection string, partial record.Record) (record.Record, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, ErrInvalidInput
	}
	rec := partial.Clone()
	if rec == nil {
		rec = record.Record{}
	}
	if !rec.Has(record.FieldID) {
		rec[record.FieldID] = e.newID()
	}
	stamp := e.Timestamp()
	rec[record.FieldCreatedAt] = stamp
	rec[record.FieldUpdatedAt] = stamp
	if org := e.syncCtx.OrganizationID(); org != "" && !rec.Has(record.FieldOrganizationID) {
		rec[record.FieldOrganizationID] = org
	}

	e.mu.Lock()
	records, err := e.store.Load(collection)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if _, exists := record.IndexByID(records)[rec.ID()]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already has id %s", ErrInvalidInput, collection, rec.ID())
	}
	if err := e.store.Save(collection, append(records, rec)); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.enqueue(outbox.NewOp(collection, outbox.ActionInsert, rec.ID(), rec.Clone()))
	return rec.Clone(), nil
}

// Update shallow-merges patch over the stored record. The id field of a
// patch is ignored.
func (e *Engine) Update(collection, id string, patch record.Record) (record.Record, error) {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	changes := patch.Clone()
	if changes == nil {
		changes = record.Record{}
	}
	delete(changes, record.FieldID)
	changes[record.FieldUpdatedAt] = e.Timestamp()

	var merged record.Record
	err := e.Modify(collection, func(records []record.Record) ([]record.Record, bool, error) {
		idx, ok := record.IndexByID(records)[id]
		if !ok {
			return nil, false, ErrNotFound
		}
		for k, v := range changes {
			records[idx][k] = v
		}
		merged = records[idx].Clone()
		return records, true, nil
	})
	if err != nil {
		return nil, err
	}

	e.enqueue(outbox.NewOp(collection, outbox.ActionUpdate, id, changes))
	return merged, nil
}

// Delete removes the record with id and reports whether one was removed.
func (e *Engine) Delete(collection, id string) (bool, error) {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return false, ErrInvalidInput
	}
	removed := false
	err := e.Modify(collection, func(records []record.Record) ([]record.Record, bool, error) {
		kept := make([]record.Record, 0, len(records))
		for _, rec := range records {
			if rec.ID() == id {
				removed = true
				continue
			}
			kept = append(kept, rec)
		}
		return kept, removed, nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		e.enqueue(outbox.NewOp(collection, outbox.ActionDelete, id, nil))
	}
	return removed, nil
}

func (e *Engine) enqueue(op outbox.Op) {
	if _, ok := e.ns.RemoteTable(op.Collection); !ok {
		return
	}
	e.queue.Enqueue(op)
}

// HydrationHook runs after every hydration that was not suppressed.
type HydrationHook func(ctx context.Context) error

func (e *Engine) OnHydrated(hook HydrationHook) {
	if hook == nil {
		return
	}
	e.hooksMu.Lock()
	e.hooks = append(e.hooks, hook)
	e.hooksMu.Unlock()
}

func (e *Engine) runHooks(ctx context.Context) {
	e.hooksMu.Lock()
	hooks := append([]HydrationHook(nil), e.hooks...)
	e.hooksMu.Unlock()
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			e.logger.Warn("post-hydration step failed", "err", err)
		}
	}
}
