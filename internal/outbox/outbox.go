// Package outbox carries mirror operations from the record core to the
// remote store. Every queue here dispatches an operation at most once.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/recordsync/internal/record"
)

var ErrInvalidInput = errors.New("invalid input")

type Action string

const (
	ActionInsert    Action = "insert"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionDeleteAll Action = "delete_all"
	// ActionReplace clears the remote table and inserts Records in one op so
	// the two halves cannot be reordered.
	ActionReplace Action = "replace"
)

type Op struct {
	OpID       string          `json:"opId"`
	Collection string          `json:"collection"`
	Action     Action          `json:"action"`
	RecordID   string          `json:"recordId,omitempty"`
	Record     record.Record   `json:"record,omitempty"`
	Records    []record.Record `json:"records,omitempty"`
	EnqueuedAt string          `json:"enqueuedAt"`
}

func NewOp(collection string, action Action, id string, rec record.Record) Op {
	return Op{
		OpID:       uuid.NewString(),
		Collection: collection,
		Action:     action,
		RecordID:   id,
		Record:     rec,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Handler replays one op. A returned error is counted, never retried.
type Handler func(ctx context.Context, op Op) error

type Queue interface {
	Enqueue(op Op)
}

type Stats struct {
	Enqueued   uint64 `json:"enqueued"`
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
}

type counters struct {
	enqueued   atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Enqueued:   c.enqueued.Load(),
		Dispatched: c.dispatched.Load(),
		Failed:     c.failed.Load(),
		Dropped:    c.dropped.Load(),
	}
}

func (c *counters) dispatch(ctx context.Context, handler Handler, op Op) {
	c.dispatched.Add(1)
	if handler == nil {
		return
	}
	if err := handler(ctx, op); err != nil {
		c.failed.Add(1)
	}
}

// Inline runs the handler on the caller's goroutine. Used where the process
// is about to exit and by tests that need deterministic ordering.
type Inline struct {
	handler Handler
	stats   counters
}

func NewInline(handler Handler) *Inline {
	return &Inline{handler: handler}
}

func (q *Inline) Enqueue(op Op) {
	q.stats.enqueued.Add(1)
	q.stats.dispatch(context.Background(), q.handler, op)
}

func (q *Inline) Stats() Stats {
	return q.stats.snapshot()
}

// Immediate starts one goroutine per op. Ops for the same record may land on
// the remote out of order.
type Immediate struct {
	handler Handler
	wg      sync.WaitGroup
	stats   counters
}

func NewImmediate(handler Handler) *Immediate {
	return &Immediate{handler: handler}
}

func (q *Immediate) Enqueue(op Op) {
	q.stats.enqueued.Add(1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.stats.dispatch(context.Background(), q.handler, op)
	}()
}

// Wait blocks until every op enqueued so far has been dispatched.
func (q *Immediate) Wait() {
	q.wg.Wait()
}

func (q *Immediate) Stats() Stats {
	return q.stats.snapshot()
}

// Spool holds ops until a Buffered worker drains them.
type Spool interface {
	TryEnqueue(op Op) bool
	Dequeue(ctx context.Context) (Op, bool)
	Depth() int
	Capacity() int
	Snapshot() []Op
	Close() error
}

// Buffered accepts ops into a Spool without blocking and dispatches them
// from Run. A full spool drops the op.
type Buffered struct {
	spool   Spool
	handler Handler
	logger  *slog.Logger
	stats   counters
}

func NewBuffered(spool Spool, handler Handler, logger *slog.Logger) *Buffered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffered{spool: spool, handler: handler, logger: logger}
}

func (q *Buffered) Enqueue(op Op) {
	q.stats.enqueued.Add(1)
	if !q.spool.TryEnqueue(op) {
		q.stats.dropped.Add(1)
		q.logger.Warn("outbox full; dropping mirror op",
			"collection", op.Collection, "action", string(op.Action), "id", op.RecordID, "capacity", q.spool.Capacity())
	}
}

// Run dispatches spooled ops until ctx is done.
func (q *Buffered) Run(ctx context.Context) error {
	for {
		op, ok := q.spool.Dequeue(ctx)
		if !ok {
			return ctx.Err()
		}
		q.stats.dispatch(ctx, q.handler, op)
	}
}

// Flush dispatches whatever is spooled right now and returns.
func (q *Buffered) Flush(ctx context.Context) int {
	n := 0
	for q.spool.Depth() > 0 {
		pollCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		op, ok := q.spool.Dequeue(pollCtx)
		cancel()
		if !ok {
			break
		}
		q.stats.dispatch(ctx, q.handler, op)
		n++
	}
	return n
}

func (q *Buffered) Depth() int {
	return q.spool.Depth()
}

func (q *Buffered) Stats() Stats {
	return q.stats.snapshot()
}

func (q *Buffered) Close() error {
	return q.spool.Close()
}
