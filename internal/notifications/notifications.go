// Package notifications creates generated alerts and collapses duplicates
// that share a type, subject and creation day.
package notifications

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/record"
	"github.com/agentworkforce/recordsync/internal/syncengine"
)

const (
	FieldType        = "type"
	FieldSubjectID   = "subjectId"
	FieldSubjectIDs  = "subjectIds"
	FieldMessage     = "message"
	FieldDueDate     = "dueDate"
	FieldRead        = "read"
	FieldActionTaken = "actionTaken"
)

// Errors are the engine's, so callers can match them across both packages.
var (
	ErrInvalidInput = syncengine.ErrInvalidInput
	ErrNotFound     = syncengine.ErrNotFound
)

// Core is the slice of the record engine notifications are built on.
type Core interface {
	List(collection string) ([]record.Record, error)
	Add(collection string, partial record.Record) (record.Record, error)
	Update(collection, id string, patch record.Record) (record.Record, error)
	Delete(collection, id string) (bool, error)
}

type Notification struct {
	Type       string
	SubjectID  string
	SubjectIDs []string
	Message    string
	DueDate    string
}

type Service struct {
	core   Core
	logger *slog.Logger
}

func NewService(core Core, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{core: core, logger: logger}
}

// Notify stores a new unread notification.
func (s *Service) Notify(n Notification) (record.Record, error) {
	if strings.TrimSpace(n.Type) == "" {
		return nil, ErrInvalidInput
	}
	rec := record.Record{
		FieldType:        n.Type,
		FieldMessage:     n.Message,
		FieldRead:        false,
		FieldActionTaken: false,
	}
	if n.SubjectID != "" {
		rec[FieldSubjectID] = n.SubjectID
	}
	if len(n.SubjectIDs) > 0 {
		rec[FieldSubjectIDs] = append([]string(nil), n.SubjectIDs...)
	}
	if n.DueDate != "" {
		rec[FieldDueDate] = n.DueDate
	}
	return s.core.Add(naming.CollectionNotifications, rec)
}

func (s *Service) MarkRead(id string) (record.Record, error) {
	return s.core.Update(naming.CollectionNotifications, id, record.Record{FieldRead: true})
}

func (s *Service) MarkActionTaken(id string) (record.Record, error) {
	return s.core.Update(naming.CollectionNotifications, id, record.Record{FieldRead: true, FieldActionTaken: true})
}

// Unread lists unread notifications, newest first.
func (s *Service) Unread() ([]record.Record, error) {
	all, err := s.core.List(naming.CollectionNotifications)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(all))
	for _, rec := range all {
		if !rec.Bool(FieldRead) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].String(record.FieldCreatedAt) > out[j].String(record.FieldCreatedAt)
	})
	return out, nil
}

type Signature struct {
	Type      string
	SubjectID string
	Day       string
}

// SignatureOf keys a notification by type, primary subject and the calendar
// day of createdAt. The primary subject is subjectId, or the first of
// subjectIds.
func SignatureOf(rec record.Record) Signature {
	subject := rec.String(FieldSubjectID)
	if subject == "" {
		if ids := rec.Strings(FieldSubjectIDs); len(ids) > 0 {
			subject = ids[0]
		}
	}
	return Signature{
		Type:      rec.String(FieldType),
		SubjectID: subject,
		Day:       calendarDay(rec.String(record.FieldCreatedAt)),
	}
}

func calendarDay(stamp string) string {
	stamp = strings.TrimSpace(stamp)
	if ts, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
		return ts.UTC().Format(time.DateOnly)
	}
	if day, _, ok := strings.Cut(stamp, "T"); ok {
		return day
	}
	return stamp
}

type DedupeReport struct {
	Groups  int
	Deleted []string
}

// Dedupe keeps one notification per signature and deletes the rest through
// the core, so the remote copies go too. A read member is preferred as the
// survivor; ties go to the oldest createdAt, then the smallest id.
func (s *Service) Dedupe(ctx context.Context) (DedupeReport, error) {
	var report DedupeReport
	all, err := s.core.List(naming.CollectionNotifications)
	if err != nil {
		return report, err
	}

	groups := map[Signature][]record.Record{}
	order := []Signature{}
	for _, rec := range all {
		sig := SignatureOf(rec)
		if _, seen := groups[sig]; !seen {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], rec)
	}

	for _, sig := range order {
		members := groups[sig]
		if len(members) < 2 {
			continue
		}
		report.Groups++
		sort.SliceStable(members, func(i, j int) bool {
			return survivorBefore(members[i], members[j])
		})
		for _, dup := range members[1:] {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			removed, err := s.core.Delete(naming.CollectionNotifications, dup.ID())
			if err != nil {
				return report, err
			}
			if removed {
				report.Deleted = append(report.Deleted, dup.ID())
			}
		}
	}
	if len(report.Deleted) > 0 {
		s.logger.Info("duplicate notifications removed", "groups", report.Groups, "deleted", len(report.Deleted))
	}
	return report, nil
}

// AfterHydration runs Dedupe; it has the shape of an engine hydration hook.
func (s *Service) AfterHydration(ctx context.Context) error {
	_, err := s.Dedupe(ctx)
	return err
}

func survivorBefore(a, b record.Record) bool {
	if ar, br := a.Bool(FieldRead), b.Bool(FieldRead); ar != br {
		return ar
	}
	if ac, bc := a.String(record.FieldCreatedAt), b.String(record.FieldCreatedAt); ac != bc {
		return ac < bc
	}
	return a.ID() < b.ID()
}
