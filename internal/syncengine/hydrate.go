package syncengine

import (
	"context"
	"fmt"

	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/record"
)

const (
	FieldChildIDs  = "childIds"
	FieldParentIDs = "parentIds"
	FieldParentID  = "parentId"
	FieldChildID   = "childId"
)

type CollectionResult struct {
	Collection string
	Table      string
	// Rows is the number of records written locally. It is meaningful only
	// when Err is nil.
	Rows int
	Err  error
}

type HydrationReport struct {
	// Suppressed is true when the run was skipped because a destructive
	// bulk operation had set the suppression flag.
	Suppressed    bool
	Collections   []CollectionResult
	Relationships RelationshipReport
}

// Replaced lists the collections that were overwritten from the remote.
func (r HydrationReport) Replaced() []string {
	var out []string
	for _, result := range r.Collections {
		if result.Err == nil {
			out = append(out, result.Collection)
		}
	}
	return out
}

func (r HydrationReport) Failed() []string {
	var out []string
	for _, result := range r.Collections {
		if result.Err != nil {
			out = append(out, result.Collection)
		}
	}
	return out
}

// HydrateAll replaces every mirrored collection with the remote copy. A
// collection whose fetch fails is left as it is. A successful empty fetch
// empties the local collection.
func (e *Engine) HydrateAll(ctx context.Context) (HydrationReport, error) {
	var report HydrationReport
	suppressed, err := e.syncCtx.ConsumeSuppression()
	if err != nil {
		return report, fmt.Errorf("read suppression flag: %w", err)
	}
	if suppressed {
		e.logger.Info("hydration skipped after destructive operation")
		report.Suppressed = true
		return report, nil
	}
	if e.remote == nil {
		return report, ErrNotConfigured
	}

	for _, entry := range e.ns.Mirrored() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := CollectionResult{Collection: entry.Local, Table: entry.Remote}
		rows, err := e.remote.Select(ctx, entry.Remote, nil)
		if err != nil {
			e.logger.Warn("hydration fetch failed; keeping local copy",
				"collection", entry.Local, "table", entry.Remote, "err", err)
			result.Err = err
			report.Collections = append(report.Collections, result)
			continue
		}
		local := naming.ToLocalAll(rows)
		e.mu.Lock()
		err = e.store.Save(entry.Local, local)
		e.mu.Unlock()
		if err != nil {
			e.logger.Error("hydration could not save collection",
				"collection", entry.Local, "err", err)
			result.Err = err
		} else {
			result.Rows = len(local)
		}
		report.Collections = append(report.Collections, result)
	}

	rel, err := e.HydrateRelationships()
	report.Relationships = rel
	if err != nil {
		return report, err
	}
	e.runHooks(ctx)
	return report, nil
}

type RelationshipReport struct {
	Links int
	// Applied counts links whose parent and child both exist.
	Applied int
	Skipped int
	Changed bool
}

// HydrateRelationships rebuilds every parent's childIds and every child's
// parentIds from the join collection. An empty join collection leaves both
// sides as they are.
func (e *Engine) HydrateRelationships() (RelationshipReport, error) {
	var report RelationshipReport
	e.mu.Lock()
	defer e.mu.Unlock()

	links, err := e.store.Load(naming.CollectionParentChildLinks)
	if err != nil {
		return report, err
	}
	report.Links = len(links)
	if len(links) == 0 {
		return report, nil
	}
	parents, err := e.store.Load(naming.CollectionParents)
	if err != nil {
		return report, err
	}
	children, err := e.store.Load(naming.CollectionChildren)
	if err != nil {
		return report, err
	}

	parentIDs := make([][]string, len(parents))
	childIDs := make([][]string, len(children))
	parentIdx := record.IndexByID(parents)
	childIdx := record.IndexByID(children)
	for i := range parents {
		parentIDs[i] = []string{}
	}
	for i := range children {
		childIDs[i] = []string{}
	}

	for _, link := range links {
		pi, okParent := parentIdx[link.String(FieldParentID)]
		ci, okChild := childIdx[link.String(FieldChildID)]
		if !okParent || !okChild {
			report.Skipped++
			continue
		}
		report.Applied++
		parentIDs[pi] = appendUnique(parentIDs[pi], children[ci].ID())
		childIDs[ci] = appendUnique(childIDs[ci], parents[pi].ID())
	}

	parentsChanged := false
	for i, parent := range parents {
		if !sameIDs(parent.Strings(FieldChildIDs), parentIDs[i]) {
			parentsChanged = true
		}
		parent[FieldChildIDs] = parentIDs[i]
	}
	childrenChanged := false
	for i, child := range children {
		if !sameIDs(child.Strings(FieldParentIDs), childIDs[i]) {
			childrenChanged = true
		}
		child[FieldParentIDs] = childIDs[i]
	}

	if parentsChanged {
		if err := e.store.Save(naming.CollectionParents, parents); err != nil {
			return report, err
		}
	}
	if childrenChanged {
		if err := e.store.Save(naming.CollectionChildren, children); err != nil {
			return report, err
		}
	}
	report.Changed = parentsChanged || childrenChanged
	return report, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
