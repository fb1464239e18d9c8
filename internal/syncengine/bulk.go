package syncengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/record"
)

// Wipe empties every known collection locally and asks the remote to clear
// each mirrored table. The suppression flag is set first so the next
// hydration cannot pull the erased rows back.
func (e *Engine) Wipe() error {
	if err := e.syncCtx.SetSuppressed(true); err != nil {
		return fmt.Errorf("set suppression flag: %w", err)
	}
	keys := e.ns.LocalKeys()
	e.mu.Lock()
	for _, key := range keys {
		if err := e.store.Save(key, []record.Record{}); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("wipe %s: %w", key, err)
		}
	}
	e.mu.Unlock()
	for _, key := range keys {
		e.enqueue(outbox.NewOp(key, outbox.ActionDeleteAll, "", nil))
	}
	e.logger.Info("local data wiped", "collections", len(keys))
	return nil
}

// Import replaces the given collections wholesale. Collections not present in
// the map are left alone. Each mirrored collection is replaced remotely by a
// single op so the clear cannot land after the inserts.
func (e *Engine) Import(collections map[string][]record.Record) error {
	keys := make([]string, 0, len(collections))
	for key := range collections {
		if !e.ns.Known(key) {
			return fmt.Errorf("%w: unknown collection %q", ErrInvalidInput, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if err := e.syncCtx.SetSuppressed(true); err != nil {
		return fmt.Errorf("set suppression flag: %w", err)
	}
	e.mu.Lock()
	for _, key := range keys {
		if err := e.store.Save(key, record.CloneAll(collections[key])); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("import %s: %w", key, err)
		}
	}
	e.mu.Unlock()
	for _, key := range keys {
		op := outbox.NewOp(key, outbox.ActionReplace, "", nil)
		op.Records = record.CloneAll(collections[key])
		e.enqueue(op)
	}
	e.logger.Info("collections imported", "collections", len(keys))
	return nil
}

// Link records a parent/child relationship as a join record and updates the
// denormalized arrays on both sides. Linking an existing pair returns the
// existing join record.
func (e *Engine) Link(parentID, childID string) (record.Record, error) {
	parentID = strings.TrimSpace(parentID)
	childID = strings.TrimSpace(childID)
	if parentID == "" || childID == "" {
		return nil, ErrInvalidInput
	}
	if _, err := e.Get(naming.CollectionParents, parentID); err != nil {
		return nil, fmt.Errorf("parent %s: %w", parentID, err)
	}
	if _, err := e.Get(naming.CollectionChildren, childID); err != nil {
		return nil, fmt.Errorf("child %s: %w", childID, err)
	}
	links, err := e.List(naming.CollectionParentChildLinks)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.String(FieldParentID) == parentID && link.String(FieldChildID) == childID {
			return link, nil
		}
	}
	link, err := e.Add(naming.CollectionParentChildLinks, record.Record{
		FieldParentID: parentID,
		FieldChildID:  childID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.setMembership(naming.CollectionParents, parentID, FieldChildIDs, childID, true); err != nil {
		return nil, err
	}
	if err := e.setMembership(naming.CollectionChildren, childID, FieldParentIDs, parentID, true); err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink removes every join record for the pair and reports whether any
// existed.
func (e *Engine) Unlink(parentID, childID string) (bool, error) {
	links, err := e.List(naming.CollectionParentChildLinks)
	if err != nil {
		return false, err
	}
	removed := false
	for _, link := range links {
		if link.String(FieldParentID) != parentID || link.String(FieldChildID) != childID {
			continue
		}
		ok, err := e.Delete(naming.CollectionParentChildLinks, link.ID())
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	if err := e.setMembership(naming.CollectionParents, parentID, FieldChildIDs, childID, false); err != nil {
		return removed, err
	}
	if err := e.setMembership(naming.CollectionChildren, childID, FieldParentIDs, parentID, false); err != nil {
		return removed, err
	}
	return removed, nil
}

// setMembership edits a denormalized id array locally. The remote keeps the
// relationship only in the join table, so nothing is mirrored.
func (e *Engine) setMembership(collection, id, field, member string, present bool) error {
	return e.Modify(collection, func(records []record.Record) ([]record.Record, bool, error) {
		idx, ok := record.IndexByID(records)[id]
		if !ok {
			return nil, false, nil
		}
		current := records[idx].Strings(field)
		next := make([]string, 0, len(current)+1)
		found := false
		for _, existing := range current {
			if existing == member {
				found = true
				if !present {
					continue
				}
			}
			next = append(next, existing)
		}
		if present && !found {
			next = append(next, member)
		}
		if present == found {
			return nil, false, nil
		}
		records[idx][field] = next
		return records, true, nil
	})
}
