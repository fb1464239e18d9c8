// Package attendance records daily attendance marks. A mark is identified by
// child and date until the remote store assigns it an id.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/record"
	"github.com/agentworkforce/recordsync/internal/syncengine"
)

const (
	StatusPresent = "Present"
	StatusAbsent  = "Absent"
	StatusLate    = "Late"
	StatusExcused = "Excused"

	DefaultTable = "attendance"
)

const (
	fieldChildID      = "childId"
	fieldDate         = "date"
	fieldStatus       = "status"
	fieldCheckInTime  = "checkInTime"
	fieldCheckOutTime = "checkOutTime"
	fieldNotes        = "notes"
)

var ErrInvalidInput = syncengine.ErrInvalidInput

type Key struct {
	ChildID string
	Date    string
}

// Entry is the content of a mark. Extra carries fields this package does not
// interpret so they survive a round trip.
type Entry struct {
	ChildID        string
	Date           string
	Status         string
	CheckInTime    string
	CheckOutTime   string
	Notes          string
	OrganizationID string
	CreatedAt      string
	UpdatedAt      string
	Extra          record.Record
}

func (e Entry) Key() Key {
	return Key{ChildID: e.ChildID, Date: e.Date}
}

// Record is either Unconfirmed or Confirmed.
type Record interface {
	Key() Key
	Fields() Entry
	isRecord()
}

// Unconfirmed has not yet been accepted by the remote store.
type Unconfirmed struct {
	Entry
}

// Confirmed carries the id the remote store assigned.
type Confirmed struct {
	ID string
	Entry
}

func (u Unconfirmed) Fields() Entry { return u.Entry }
func (c Confirmed) Fields() Entry   { return c.Entry }
func (Unconfirmed) isRecord()       {}
func (Confirmed) isRecord()         {}

func FromRecord(rec record.Record) Record {
	entry := Entry{
		ChildID:        rec.String(fieldChildID),
		Date:           rec.String(fieldDate),
		Status:         rec.String(fieldStatus),
		CheckInTime:    rec.String(fieldCheckInTime),
		CheckOutTime:   rec.String(fieldCheckOutTime),
		Notes:          rec.String(fieldNotes),
		OrganizationID: rec.String(record.FieldOrganizationID),
		CreatedAt:      rec.String(record.FieldCreatedAt),
		UpdatedAt:      rec.String(record.FieldUpdatedAt),
	}
	extra := record.Record{}
	for k, v := range rec {
		switch k {
		case record.FieldID, fieldChildID, fieldDate, fieldStatus, fieldCheckInTime, fieldCheckOutTime, fieldNotes,
			record.FieldOrganizationID, record.FieldCreatedAt, record.FieldUpdatedAt:
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		entry.Extra = extra
	}
	if id := rec.ID(); id != "" {
		return Confirmed{ID: id, Entry: entry}
	}
	return Unconfirmed{Entry: entry}
}

func ToRecord(r Record) record.Record {
	entry := r.Fields()
	rec := record.Record{}
	for k, v := range entry.Extra {
		rec[k] = v
	}
	rec[fieldChildID] = entry.ChildID
	rec[fieldDate] = entry.Date
	setIfPresent(rec, fieldStatus, entry.Status)
	setIfPresent(rec, fieldCheckInTime, entry.CheckInTime)
	setIfPresent(rec, fieldCheckOutTime, entry.CheckOutTime)
	setIfPresent(rec, fieldNotes, entry.Notes)
	setIfPresent(rec, record.FieldOrganizationID, entry.OrganizationID)
	setIfPresent(rec, record.FieldCreatedAt, entry.CreatedAt)
	setIfPresent(rec, record.FieldUpdatedAt, entry.UpdatedAt)
	if c, ok := r.(Confirmed); ok {
		rec[record.FieldID] = c.ID
	}
	return rec
}

func setIfPresent(rec record.Record, field, value string) {
	if value != "" {
		rec[field] = value
	}
}

// Local is the locked read-modify-write access to the local store the
// service needs. *syncengine.Engine satisfies it.
type Local interface {
	List(collection string) ([]record.Record, error)
	Modify(collection string, fn func(records []record.Record) ([]record.Record, bool, error)) error
	OrganizationID() string
}

type Options struct {
	// Collection is the local key. Defaults to naming.CollectionAttendance.
	Collection string
	// Table is the remote table. Defaults to DefaultTable.
	Table  string
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	local      Local
	remote     postgrest.API
	collection string
	table      string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds the service. remote may be nil for local-only use.
func NewService(local Local, remote postgrest.API, opts Options) *Service {
	collection := strings.TrimSpace(opts.Collection)
	if collection == "" {
		collection = naming.CollectionAttendance
	}
	table := strings.TrimSpace(opts.Table)
	if table == "" {
		table = DefaultTable
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		local:      local,
		remote:     remote,
		collection: collection,
		table:      table,
		logger:     logger,
		now:        now,
	}
}

// MarkStatus records a status for a child on a date. The local write always
// happens first and its error is the only one returned; the remote write is
// attempted afterwards and only logged on failure.
func (s *Service) MarkStatus(ctx context.Context, childID, date, status string) (Record, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, ErrInvalidInput
	}
	return s.mark(ctx, childID, date, func(entry *Entry, stamp string) {
		entry.Status = status
		if (status == StatusPresent || status == StatusLate) && entry.CheckInTime == "" {
			entry.CheckInTime = stamp
		}
	})
}

// CheckOut stamps the check-out time, marking the child present if there was
// no mark for the day yet.
func (s *Service) CheckOut(ctx context.Context, childID, date string) (Record, error) {
	return s.mark(ctx, childID, date, func(entry *Entry, stamp string) {
		if entry.Status == "" {
			entry.Status = StatusPresent
		}
		entry.CheckOutTime = stamp
	})
}

func (s *Service) mark(ctx context.Context, childID, date string, apply func(entry *Entry, stamp string)) (Record, error) {
	key := Key{ChildID: strings.TrimSpace(childID), Date: strings.TrimSpace(date)}
	if key.ChildID == "" || !validDate(key.Date) {
		return nil, fmt.Errorf("%w: child %q date %q", ErrInvalidInput, childID, date)
	}
	stamp := s.now().UTC().Format(time.RFC3339)

	var current Record
	err := s.local.Modify(s.collection, func(records []record.Record) ([]record.Record, bool, error) {
		idx := indexOf(records, key)
		if idx >= 0 {
			current = FromRecord(records[idx])
		} else {
			current = Unconfirmed{Entry: Entry{
				ChildID:        key.ChildID,
				Date:           key.Date,
				OrganizationID: s.local.OrganizationID(),
				CreatedAt:      stamp,
			}}
		}
		current = withEntry(current, func(entry *Entry) {
			apply(entry, stamp)
			entry.UpdatedAt = stamp
		})
		if idx >= 0 {
			records[idx] = ToRecord(current)
		} else {
			records = append(records, ToRecord(current))
		}
		return records, true, nil
	})
	if err != nil {
		return nil, err
	}
	return s.pushRemote(ctx, current), nil
}

func (s *Service) pushRemote(ctx context.Context, current Record) Record {
	if s.remote == nil {
		return current
	}
	switch rec := current.(type) {
	case Unconfirmed:
		rows, err := s.remote.Insert(ctx, s.table, naming.ToRemote(ToRecord(rec)))
		if err != nil {
			s.logger.Warn("attendance remote insert failed; kept locally",
				"table", s.table, "child", rec.ChildID, "date", rec.Date, "err", err)
			return rec
		}
		if len(rows) == 0 || rows[0].ID() == "" {
			return rec
		}
		confirmed := Confirmed{ID: rows[0].ID(), Entry: rec.Entry}
		if err := s.writeBackID(confirmed); err != nil {
			s.logger.Warn("attendance id write-back failed",
				"child", rec.ChildID, "date", rec.Date, "id", confirmed.ID, "err", err)
		}
		return confirmed
	case Confirmed:
		patch := naming.ToRemote(ToRecord(rec))
		delete(patch, record.FieldID)
		if _, err := s.remote.Update(ctx, s.table, rec.ID, patch); err != nil {
			s.logger.Warn("attendance remote update failed; kept locally",
				"table", s.table, "id", rec.ID, "err", err)
		}
		return rec
	default:
		return current
	}
}

func (s *Service) writeBackID(confirmed Confirmed) error {
	return s.local.Modify(s.collection, func(records []record.Record) ([]record.Record, bool, error) {
		idx := indexOf(records, confirmed.Key())
		if idx < 0 {
			return nil, false, nil
		}
		records[idx][record.FieldID] = confirmed.ID
		return records, true, nil
	})
}

// Merge returns one mark per child and date within [from, to], both
// inclusive. Local marks are laid down first and remote marks overwrite them
// on the same key. A failed remote query yields the local marks alone.
func (s *Service) Merge(ctx context.Context, from, to string) ([]Record, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if !validDate(from) || !validDate(to) || from > to {
		return nil, fmt.Errorf("%w: range %q..%q", ErrInvalidInput, from, to)
	}

	local, err := s.local.List(s.collection)
	if err != nil {
		return nil, err
	}
	merged := map[Key]Record{}
	for _, rec := range local {
		r := FromRecord(rec)
		if inRange(r.Key().Date, from, to) {
			merged[r.Key()] = r
		}
	}

	for _, rec := range s.fetchRemote(ctx, from, to) {
		r := FromRecord(naming.ToLocal(rec))
		if r.Key().ChildID == "" || !inRange(r.Key().Date, from, to) {
			continue
		}
		merged[r.Key()] = r
	}

	out := make([]Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ChildID < b.ChildID
	})
	return out, nil
}

func (s *Service) fetchRemote(ctx context.Context, from, to string) []record.Record {
	if s.remote == nil {
		return nil
	}
	filters := url.Values{}
	filters.Add(fieldDate, "gte."+from)
	filters.Add(fieldDate, "lte."+to)
	rows, err := s.remote.Select(ctx, s.table, filters)
	if err != nil {
		s.logger.Warn("attendance remote query failed; using local marks only",
			"table", s.table, "from", from, "to", to, "err", err)
		return nil
	}
	return rows
}

func withEntry(r Record, fn func(entry *Entry)) Record {
	switch rec := r.(type) {
	case Unconfirmed:
		fn(&rec.Entry)
		return rec
	case Confirmed:
		fn(&rec.Entry)
		return rec
	default:
		return r
	}
}

func indexOf(records []record.Record, key Key) int {
	for i, rec := range records {
		if rec.String(fieldChildID) == key.ChildID && rec.String(fieldDate) == key.Date {
			return i
		}
	}
	return -1
}

func validDate(value string) bool {
	_, err := time.Parse(time.DateOnly, value)
	return err == nil
}

func inRange(date, from, to string) bool {
	return date >= from && date <= to
}
