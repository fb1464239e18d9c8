package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentworkforce/recordsync/internal/record"
)

// Rename moves a field within one collection. Each rename runs once per
// store; completion is remembered as a store flag.
type Rename struct {
	Collection string
	From       string
	To         string
}

func (r Rename) flagName() string {
	return "rename:" + r.Collection + "." + r.From + "->" + r.To
}

type InitReport struct {
	Seeded    []string
	Renamed   []Rename
	Hydrated  bool
	Hydration HydrationReport
}

// Init prepares the local store for use: absent collections receive their
// seed records, pending renames run, and the remote is hydrated. A missing or
// unreachable remote leaves the seeded local data in place.
func (e *Engine) Init(ctx context.Context) (InitReport, error) {
	var report InitReport
	seeded, err := e.applySeeds()
	if err != nil {
		return report, err
	}
	report.Seeded = seeded

	renamed, err := e.applyRenames()
	if err != nil {
		return report, err
	}
	report.Renamed = renamed

	hydration, err := e.HydrateAll(ctx)
	report.Hydration = hydration
	switch {
	case errors.Is(err, ErrNotConfigured):
		e.logger.Info("remote not configured; running local-only")
	case err != nil:
		return report, err
	default:
		report.Hydrated = !hydration.Suppressed
	}
	return report, nil
}

func (e *Engine) applySeeds() ([]string, error) {
	keys := make([]string, 0, len(e.seeds))
	for key := range e.seeds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var seeded []string
	for _, key := range keys {
		applied := false
		err := e.Modify(key, func(records []record.Record) ([]record.Record, bool, error) {
			if len(records) > 0 {
				return nil, false, nil
			}
			applied = true
			return record.CloneAll(e.seeds[key]), true, nil
		})
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", key, err)
		}
		if applied {
			seeded = append(seeded, key)
		}
	}
	return seeded, nil
}

func (e *Engine) applyRenames() ([]Rename, error) {
	var done []Rename
	for _, rename := range e.renames {
		if strings.TrimSpace(rename.Collection) == "" || rename.From == "" || rename.To == "" || rename.From == rename.To {
			return done, fmt.Errorf("%w: rename %+v", ErrInvalidInput, rename)
		}
		applied, err := e.store.Flag(rename.flagName())
		if err != nil {
			return done, err
		}
		if applied {
			continue
		}
		err = e.Modify(rename.Collection, func(records []record.Record) ([]record.Record, bool, error) {
			changed := false
			for _, rec := range records {
				value, ok := rec[rename.From]
				if !ok {
					continue
				}
				if !rec.Has(rename.To) {
					rec[rename.To] = value
				}
				delete(rec, rename.From)
				changed = true
			}
			return records, changed, nil
		})
		if err != nil {
			return done, fmt.Errorf("rename %s.%s: %w", rename.Collection, rename.From, err)
		}
		if err := e.store.SetFlag(rename.flagName(), true); err != nil {
			return done, err
		}
		done = append(done, rename)
	}
	return done, nil
}
