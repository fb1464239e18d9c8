package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/recordsync/internal/record"
)

type recorder struct {
	mu  sync.Mutex
	ops []Op
	err error
}

func (r *recorder) handle(ctx context.Context, op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return r.err
}

func (r *recorder) seen() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

func TestInlineDispatchesSynchronouslyAndCountsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("remote down")}
	q := NewInline(rec.handle)
	q.Enqueue(NewOp("children", ActionInsert, "c1", record.Record{"id": "c1"}))
	if got := rec.seen(); len(got) != 1 || got[0].RecordID != "c1" {
		t.Fatalf("expected op to be dispatched inline, got %+v", got)
	}
	stats := q.Stats()
	if stats.Enqueued != 1 || stats.Dispatched != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestImmediateWaitDrainsAllOps(t *testing.T) {
	rec := &recorder{}
	q := NewImmediate(rec.handle)
	for i := 0; i < 10; i++ {
		q.Enqueue(NewOp("parents", ActionUpdate, "p1", record.Record{"id": "p1"}))
	}
	q.Wait()
	if got := len(rec.seen()); got != 10 {
		t.Fatalf("expected 10 dispatched ops, got %d", got)
	}
}

func TestBufferedDropsWhenFull(t *testing.T) {
	rec := &recorder{}
	q := NewBuffered(NewMemorySpool(1), rec.handle, nil)
	q.Enqueue(NewOp("staff", ActionInsert, "s1", nil))
	q.Enqueue(NewOp("staff", ActionInsert, "s2", nil))
	if q.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", q.Depth())
	}
	if stats := q.Stats(); stats.Dropped != 1 {
		t.Fatalf("expected one dropped op, got %+v", stats)
	}
	if n := q.Flush(context.Background()); n != 1 {
		t.Fatalf("expected flush to dispatch 1 op, got %d", n)
	}
	if got := rec.seen(); len(got) != 1 || got[0].RecordID != "s1" {
		t.Fatalf("expected s1 to be dispatched, got %+v", got)
	}
}

func TestBufferedRunStopsWithContext(t *testing.T) {
	rec := &recorder{}
	q := NewBuffered(NewMemorySpool(4), rec.handle, nil)
	q.Enqueue(NewOp("schedules", ActionDelete, "sc1", nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.seen()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected run loop to dispatch spooled op")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run loop did not stop after cancel")
	}
}

func TestFileSpoolPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	spool, err := NewFileSpool(path, 4)
	if err != nil {
		t.Fatalf("new file spool failed: %v", err)
	}
	if !spool.TryEnqueue(NewOp("children", ActionInsert, "c1", record.Record{"id": "c1"})) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if !spool.TryEnqueue(NewOp("children", ActionDelete, "c2", nil)) {
		t.Fatalf("expected second enqueue to succeed")
	}

	reopened, err := NewFileSpool(path, 4)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	first, ok := reopened.Dequeue(ctx)
	if !ok || first.RecordID != "c1" || first.Record.ID() != "c1" {
		t.Fatalf("expected first op c1, got %+v (ok=%v)", first, ok)
	}
	second, ok := reopened.Dequeue(ctx)
	if !ok || second.Action != ActionDelete {
		t.Fatalf("expected second op to be a delete, got %+v (ok=%v)", second, ok)
	}
	if _, ok := reopened.Dequeue(ctx); ok {
		t.Fatalf("expected dequeue to time out when spool is empty")
	}
}

func TestSpoolDeleteSupersedesPendingWrites(t *testing.T) {
	spool := NewMemorySpool(3)
	for _, op := range []Op{
		NewOp("children", ActionInsert, "c1", record.Record{"id": "c1"}),
		NewOp("children", ActionUpdate, "c1", record.Record{"firstName": "Ada"}),
		NewOp("parents", ActionUpdate, "c1", record.Record{"firstName": "Bo"}),
		NewOp("children", ActionDelete, "c1", nil),
	} {
		if !spool.TryEnqueue(op) {
			t.Fatalf("expected %s %s to be accepted", op.Action, op.Collection)
		}
	}
	pending := spool.Snapshot()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending ops, got %+v", pending)
	}
	if pending[0].Collection != "parents" || pending[1].Action != ActionDelete {
		t.Fatalf("expected parents update then children delete, got %+v", pending)
	}
}

func TestFileSpoolReplaceSupersedesCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	spool, err := NewFileSpool(path, 2)
	if err != nil {
		t.Fatalf("new file spool failed: %v", err)
	}
	spool.TryEnqueue(NewOp("staff", ActionInsert, "s1", nil))
	spool.TryEnqueue(NewOp("staff", ActionInsert, "s2", nil))
	replace := NewOp("staff", ActionReplace, "", nil)
	replace.Records = []record.Record{{"id": "s3"}}
	if !spool.TryEnqueue(replace) {
		t.Fatalf("expected replace to fit once superseded ops are gone")
	}

	reopened, err := NewFileSpool(path, 2)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	pending := reopened.Snapshot()
	if len(pending) != 1 || pending[0].Action != ActionReplace || len(pending[0].Records) != 1 {
		t.Fatalf("expected only the replace op on disk, got %+v", pending)
	}
}

func TestBuildFromDSN(t *testing.T) {
	handler := (&recorder{}).handle
	spoolPath := filepath.Join(t.TempDir(), "q.json")
	cases := []struct {
		dsn  string
		want string
	}{
		{dsn: "", want: "*outbox.Immediate"},
		{dsn: "immediate://", want: "*outbox.Immediate"},
		{dsn: "inline://", want: "*outbox.Inline"},
		{dsn: "memory://", want: "*outbox.Buffered"},
		{dsn: "file://" + spoolPath, want: "*outbox.Buffered"},
	}
	for _, tc := range cases {
		q, err := BuildFromDSN(tc.dsn, 8, handler, nil)
		if err != nil {
			t.Fatalf("build %q failed: %v", tc.dsn, err)
		}
		if got := typeName(q); got != tc.want {
			t.Fatalf("build %q: expected %s, got %s", tc.dsn, tc.want, got)
		}
	}
	if _, err := BuildFromDSN("kafka://broker", 8, handler, nil); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func typeName(q Queue) string {
	switch q.(type) {
	case *Immediate:
		return "*outbox.Immediate"
	case *Inline:
		return "*outbox.Inline"
	case *Buffered:
		return "*outbox.Buffered"
	default:
		return "unknown"
	}
}
