package attendance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agentworkforce/recordsync/internal/localstore"
	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/postgrest/postgresttest"
	"github.com/agentworkforce/recordsync/internal/record"
	"github.com/agentworkforce/recordsync/internal/syncengine"
)

var markTime = time.Date(2024, 1, 10, 8, 15, 0, 0, time.UTC)

func newTestService(t *testing.T, remote postgrest.API) (*Service, *syncengine.Engine) {
	t.Helper()
	store := localstore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := syncengine.New(syncengine.Options{
		Store:   store,
		Remote:  remote,
		Context: syncengine.NewSyncContext(store, syncengine.StaticSession{Organization: "org-1"}),
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	svc := NewService(engine, remote, Options{Logger: logger, Now: func() time.Time { return markTime }})
	return svc, engine
}

func TestMergeRemoteWinsOnSameKey(t *testing.T) {
	remote := postgresttest.NewFake()
	remote.Seed("attendance", record.Record{"id": "r1", "child_id": "c1", "date": "2024-01-10", "status": "Present"})
	svc, engine := newTestService(t, remote)
	seedLocal(t, engine, record.Record{"childId": "c1", "date": "2024-01-10", "status": "Absent"})

	merged, err := svc.Merge(context.Background(), "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected exactly one record for (c1, 2024-01-10), got %v", merged)
	}
	confirmed, ok := merged[0].(Confirmed)
	if !ok || confirmed.ID != "r1" || confirmed.Status != StatusPresent {
		t.Fatalf("expected remote record to win, got %#v", merged[0])
	}
	calls := remote.CallsTo("GET", "attendance")
	if len(calls) != 1 || len(calls[0].Filters["date"]) != 2 {
		t.Fatalf("expected one ranged remote query, got %+v", calls)
	}
}

func TestMergeDegradesToLocalWhenRemoteFails(t *testing.T) {
	remote := postgresttest.NewFake()
	remote.FailSelect("attendance", errors.New("relation \"attendance\" does not exist"))
	svc, engine := newTestService(t, remote)
	local := record.Record{"childId": "c1", "date": "2024-01-10", "status": "Absent", "notes": "flu", "reportedBy": "parent"}
	seedLocal(t, engine, local)

	merged, err := svc.Merge(context.Background(), "2024-01-10", "2024-01-10")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected the local record, got %v", merged)
	}
	if _, ok := merged[0].(Unconfirmed); !ok {
		t.Fatalf("expected unconfirmed local record, got %#v", merged[0])
	}
	got := ToRecord(merged[0])
	for k, v := range local {
		if got[k] != v {
			t.Fatalf("expected local record unchanged, field %s: got %v want %v", k, got[k], v)
		}
	}
}

func TestMergeKeepsLocalOnlyKeysAndFiltersRange(t *testing.T) {
	remote := postgresttest.NewFake()
	remote.Seed("attendance",
		record.Record{"id": "r2", "child_id": "c2", "date": "2024-01-11", "status": "Late"},
		record.Record{"id": "r3", "child_id": "c2", "date": "2024-02-01", "status": "Late"},
	)
	svc, engine := newTestService(t, remote)
	seedLocal(t, engine,
		record.Record{"childId": "c1", "date": "2024-01-10", "status": "Absent"},
		record.Record{"childId": "c1", "date": "2023-12-31", "status": "Absent"},
	)

	merged, err := svc.Merge(context.Background(), "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected two records in range, got %v", merged)
	}
	if merged[0].Key() != (Key{ChildID: "c1", Date: "2024-01-10"}) || merged[1].Key() != (Key{ChildID: "c2", Date: "2024-01-11"}) {
		t.Fatalf("unexpected merge output order or keys: %v", merged)
	}
	if _, err := svc.Merge(context.Background(), "2024-02-01", "2024-01-01"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}
}

func TestMarkStatusInsertsThenUpdatesById(t *testing.T) {
	remote := postgresttest.NewFake()
	svc, engine := newTestService(t, remote)
	ctx := context.Background()

	first, err := svc.MarkStatus(ctx, "c1", "2024-01-10", StatusPresent)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	confirmed, ok := first.(Confirmed)
	if !ok || confirmed.ID == "" {
		t.Fatalf("expected remote id to confirm the record, got %#v", first)
	}
	if confirmed.CheckInTime == "" || confirmed.OrganizationID != "org-1" {
		t.Fatalf("expected check-in time and tenant, got %#v", confirmed)
	}
	stored, _ := engine.List(naming.CollectionAttendance)
	if len(stored) != 1 || stored[0].ID() != confirmed.ID {
		t.Fatalf("expected id written back locally, got %v", stored)
	}

	second, err := svc.CheckOut(ctx, "c1", "2024-01-10")
	if err != nil {
		t.Fatalf("check out failed: %v", err)
	}
	if c, ok := second.(Confirmed); !ok || c.ID != confirmed.ID || c.CheckOutTime == "" || c.Status != StatusPresent {
		t.Fatalf("expected confirmed checkout on the same record, got %#v", second)
	}
	if inserts := remote.CallsTo("POST", "attendance"); len(inserts) != 1 {
		t.Fatalf("expected a single remote insert, got %d", len(inserts))
	}
	patches := remote.CallsTo("PATCH", "attendance")
	if len(patches) != 1 || patches[0].ID != confirmed.ID || !patches[0].Rows[0].Has("check_out_time") {
		t.Fatalf("expected update by id with translated fields, got %+v", patches)
	}
	if rows := remote.Rows("attendance"); len(rows) != 1 {
		t.Fatalf("expected no duplicate remote rows, got %v", rows)
	}
}

func TestMarkStatusPersistsLocallyWhenRemoteFails(t *testing.T) {
	remote := postgresttest.NewFake()
	remote.FailAll(errors.New("offline"))
	svc, engine := newTestService(t, remote)

	got, err := svc.MarkStatus(context.Background(), "c1", "2024-01-10", StatusAbsent)
	if err != nil {
		t.Fatalf("expected mark to succeed offline, got %v", err)
	}
	if _, ok := got.(Unconfirmed); !ok {
		t.Fatalf("expected unconfirmed record offline, got %#v", got)
	}
	stored, _ := engine.List(naming.CollectionAttendance)
	if len(stored) != 1 || stored[0].String("status") != StatusAbsent || stored[0].Has("id") {
		t.Fatalf("expected local unconfirmed mark, got %v", stored)
	}

	remote.FailAll(nil)
	again, err := svc.MarkStatus(context.Background(), "c1", "2024-01-10", StatusExcused)
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if _, ok := again.(Confirmed); !ok {
		t.Fatalf("expected mark to be confirmed once the remote is back, got %#v", again)
	}
	stored, _ = engine.List(naming.CollectionAttendance)
	if len(stored) != 1 || stored[0].String("status") != StatusExcused {
		t.Fatalf("expected one local record per child and date, got %v", stored)
	}
}

func TestMarkStatusValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.MarkStatus(ctx, "", "2024-01-10", StatusPresent); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing child to be rejected, got %v", err)
	}
	if _, err := svc.MarkStatus(ctx, "c1", "10/01/2024", StatusPresent); !errors.Is(err, syncengine.ErrInvalidInput) {
		t.Fatalf("expected malformed date to be rejected with the engine sentinel, got %v", err)
	}
	if _, err := svc.MarkStatus(ctx, "c1", "2024-01-10", " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty status to be rejected, got %v", err)
	}
	rec, err := svc.MarkStatus(ctx, "c1", "2024-01-10", StatusLate)
	if err != nil {
		t.Fatalf("local-only mark failed: %v", err)
	}
	if _, ok := rec.(Unconfirmed); !ok {
		t.Fatalf("expected unconfirmed without a remote, got %#v", rec)
	}
}

func seedLocal(t *testing.T, engine *syncengine.Engine, records ...record.Record) {
	t.Helper()
	err := engine.Modify(naming.CollectionAttendance, func(existing []record.Record) ([]record.Record, bool, error) {
		return append(existing, records...), true, nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}
