// Package postgresttest provides an in-memory stand-in for the remote store.
package postgresttest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/record"
)

type Call struct {
	Method  string
	Table   string
	ID      string
	Rows    []record.Record
	Filters url.Values
}

// Fake implements postgrest.API over in-memory tables. Filters support the
// eq., neq., gte. and lte. operators on string comparison.
type Fake struct {
	mu         sync.Mutex
	tables     map[string][]record.Record
	selectErrs map[string]error
	err        error
	calls      []Call
	nextID     int
}

var _ postgrest.API = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		tables:     map[string][]record.Record{},
		selectErrs: map[string]error{},
	}
}

// Seed replaces the contents of a table.
func (f *Fake) Seed(table string, rows ...record.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = record.CloneAll(rows)
}

func (f *Fake) Rows(table string) []record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return record.CloneAll(f.tables[table])
}

// FailSelect makes reads of one table return err.
func (f *Fake) FailSelect(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectErrs[table] = err
}

// FailAll makes every call return err. A nil err restores normal behavior.
func (f *Fake) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns calls with the given method against table.
func (f *Fake) CallsTo(method, table string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, call := range f.calls {
		if call.Method == method && call.Table == table {
			out = append(out, call)
		}
	}
	return out
}

func (f *Fake) Select(ctx context.Context, table string, filters url.Values) ([]record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "GET", Table: table, Filters: filters})
	if f.err != nil {
		return nil, f.err
	}
	if err := f.selectErrs[table]; err != nil {
		return nil, err
	}
	out := []record.Record{}
	for _, row := range f.tables[table] {
		if matches(row, filters) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (f *Fake) Insert(ctx context.Context, table string, rows ...record.Record) ([]record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "POST", Table: table, Rows: record.CloneAll(rows)})
	if f.err != nil {
		return nil, f.err
	}
	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		stored := row.Clone()
		if stored.ID() == "" {
			f.nextID++
			stored[record.FieldID] = fmt.Sprintf("remote-%d", f.nextID)
		}
		f.tables[table] = append(f.tables[table], stored)
		out = append(out, stored.Clone())
	}
	return out, nil
}

func (f *Fake) Update(ctx context.Context, table, id string, patch record.Record) ([]record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "PATCH", Table: table, ID: id, Rows: []record.Record{patch.Clone()}})
	if f.err != nil {
		return nil, f.err
	}
	out := []record.Record{}
	for _, row := range f.tables[table] {
		if row.ID() != id {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		out = append(out, row.Clone())
	}
	return out, nil
}

func (f *Fake) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "DELETE", Table: table, ID: id})
	if f.err != nil {
		return f.err
	}
	kept := f.tables[table][:0]
	for _, row := range f.tables[table] {
		if row.ID() != id {
			kept = append(kept, row)
		}
	}
	f.tables[table] = kept
	return nil
}

func (f *Fake) DeleteAll(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "DELETE", Table: table, ID: "*"})
	if f.err != nil {
		return f.err
	}
	f.tables[table] = nil
	return nil
}

func matches(row record.Record, filters url.Values) bool {
	for field, conditions := range filters {
		if field == "select" {
			continue
		}
		value := row.String(field)
		for _, condition := range conditions {
			op, operand, ok := strings.Cut(condition, ".")
			if !ok {
				return false
			}
			switch op {
			case "eq":
				if value != operand {
					return false
				}
			case "neq":
				if value == operand {
					return false
				}
			case "gte":
				if value < operand {
					return false
				}
			case "lte":
				if value > operand {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}
