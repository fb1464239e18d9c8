package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/agentworkforce/recordsync/internal/localstore"
	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/postgrest/postgresttest"
	"github.com/agentworkforce/recordsync/internal/record"
	"github.com/agentworkforce/recordsync/internal/syncengine"
)

func newTestService(t *testing.T) (*Service, *syncengine.Engine, *localstore.MemoryStore, *postgresttest.Fake) {
	t.Helper()
	store := localstore.NewMemoryStore()
	remote := postgresttest.NewFake()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ns := naming.DefaultNamespace()
	engine, err := syncengine.New(syncengine.Options{
		Store:     store,
		Namespace: ns,
		Remote:    remote,
		Queue:     outbox.NewInline(syncengine.NewMirror(remote, ns, logger).Apply),
		Logger:    logger,
		Now:       func() time.Time { return time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	return NewService(engine, logger), engine, store, remote
}

func TestNotifyStoresUnreadAndMirrors(t *testing.T) {
	svc, _, _, remote := newTestService(t)
	rec, err := svc.Notify(Notification{Type: "payment_due", SubjectID: "p1", Message: "Invoice due", DueDate: "2024-03-10"})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if rec.Bool(FieldRead) || rec.String(FieldDueDate) != "2024-03-10" || rec.ID() == "" {
		t.Fatalf("unexpected notification %v", rec)
	}
	inserts := remote.CallsTo("POST", "notifications")
	if len(inserts) != 1 || inserts[0].Rows[0].String("subject_id") != "p1" {
		t.Fatalf("expected mirrored insert, got %+v", inserts)
	}

	if _, err := svc.MarkRead(rec.ID()); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	unread, err := svc.Unread()
	if err != nil {
		t.Fatalf("unread failed: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread notifications, got %v", unread)
	}
	if _, err := svc.Notify(Notification{}); err == nil {
		t.Fatalf("expected notification without type to be rejected")
	}
}

func TestErrorsMatchEngineSentinels(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Notify(Notification{Message: "no type"}); !errors.Is(err, syncengine.ErrInvalidInput) {
		t.Fatalf("expected engine ErrInvalidInput, got %v", err)
	}
	_, err := svc.MarkRead("missing")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, syncengine.ErrNotFound) {
		t.Fatalf("expected not found from both packages, got %v", err)
	}
}

func TestSignatureUsesPrimarySubjectAndDay(t *testing.T) {
	a := SignatureOf(record.Record{"type": "birthday", "subjectIds": []any{"c1", "c2"}, "createdAt": "2024-03-04T08:00:00Z"})
	b := SignatureOf(record.Record{"type": "birthday", "subjectId": "c1", "createdAt": "2024-03-04T23:59:59Z"})
	if a != b {
		t.Fatalf("expected matching signatures, got %+v and %+v", a, b)
	}
	c := SignatureOf(record.Record{"type": "birthday", "subjectId": "c1", "createdAt": "2024-03-05T00:00:00Z"})
	if a == c {
		t.Fatalf("expected different days to differ")
	}
}

func TestDedupePrefersReadMemberAndDeletesRemotely(t *testing.T) {
	svc, engine, store, remote := newTestService(t)
	seed := []record.Record{
		{"id": "n1", "type": "absence", "subjectId": "c1", "read": false, "createdAt": "2024-03-04T08:00:00Z"},
		{"id": "n2", "type": "absence", "subjectId": "c1", "read": true, "createdAt": "2024-03-04T09:00:00Z"},
		{"id": "n3", "type": "absence", "subjectId": "c1", "read": false, "createdAt": "2024-03-04T10:00:00Z"},
		{"id": "n4", "type": "absence", "subjectId": "c2", "read": false, "createdAt": "2024-03-04T08:00:00Z"},
		{"id": "n5", "type": "absence", "subjectId": "c1", "read": false, "createdAt": "2024-03-05T08:00:00Z"},
	}
	if err := store.Save(naming.CollectionNotifications, seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	report, err := svc.Dedupe(context.Background())
	if err != nil {
		t.Fatalf("dedupe failed: %v", err)
	}
	sort.Strings(report.Deleted)
	if !reflect.DeepEqual(report.Deleted, []string{"n1", "n3"}) {
		t.Fatalf("expected n1 and n3 removed, got %v", report.Deleted)
	}
	remaining, _ := engine.List(naming.CollectionNotifications)
	ids := make([]string, 0, len(remaining))
	for _, rec := range remaining {
		ids = append(ids, rec.ID())
	}
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"n2", "n4", "n5"}) {
		t.Fatalf("unexpected survivors %v", ids)
	}
	if deletes := remote.CallsTo("DELETE", "notifications"); len(deletes) != 2 {
		t.Fatalf("expected remote deletes through the core, got %+v", deletes)
	}
}

func TestDedupeIsIdempotent(t *testing.T) {
	svc, engine, store, _ := newTestService(t)
	seed := []record.Record{
		{"id": "a", "type": "reminder", "subjectId": "s1", "read": true, "createdAt": "2024-03-04T08:00:00Z"},
		{"id": "b", "type": "reminder", "subjectId": "s1", "read": true, "createdAt": "2024-03-04T08:00:00Z"},
		{"id": "c", "type": "reminder", "subjectId": "s1", "read": false, "createdAt": "2024-03-04T07:00:00Z"},
	}
	if err := store.Save(naming.CollectionNotifications, seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := svc.Dedupe(context.Background()); err != nil {
		t.Fatalf("first dedupe failed: %v", err)
	}
	first, _ := engine.List(naming.CollectionNotifications)
	report, err := svc.Dedupe(context.Background())
	if err != nil {
		t.Fatalf("second dedupe failed: %v", err)
	}
	second, _ := engine.List(naming.CollectionNotifications)
	if len(report.Deleted) != 0 || !reflect.DeepEqual(first, second) {
		t.Fatalf("expected second pass to change nothing, deleted=%v", report.Deleted)
	}
	if len(second) != 1 || second[0].ID() != "a" {
		t.Fatalf("expected read survivor a, got %v", second)
	}
}

func TestAfterHydrationRunsAsEngineHook(t *testing.T) {
	svc, engine, _, remote := newTestService(t)
	remote.Seed("notifications",
		record.Record{"id": "r1", "type": "late", "subject_id": "c9", "read": false, "created_at": "2024-03-04T08:00:00Z"},
		record.Record{"id": "r2", "type": "late", "subject_id": "c9", "read": false, "created_at": "2024-03-04T08:05:00Z"},
	)
	engine.OnHydrated(svc.AfterHydration)
	if _, err := engine.HydrateAll(context.Background()); err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	remaining, _ := engine.List(naming.CollectionNotifications)
	if len(remaining) != 1 || remaining[0].ID() != "r1" {
		t.Fatalf("expected hydration to be followed by dedupe, got %v", remaining)
	}
}
