package naming

import (
	"fmt"
	"strings"
)

const (
	CollectionParents          = "parents"
	CollectionChildren         = "children"
	CollectionSchedules        = "schedules"
	CollectionNotifications    = "notifications"
	CollectionStaff            = "staff"
	CollectionPayments         = "payments"
	CollectionParentChildLinks = "parentChildLinks"
	CollectionAttendance       = "attendance"
	CollectionSettings         = "settings"
	CollectionDrafts           = "drafts"
)

// Entry pairs a local collection with its remote table. An empty Remote
// marks the collection local-only.
type Entry struct {
	Local  string
	Remote string
}

type Namespace struct {
	entries  []Entry
	byLocal  map[string]string
	byRemote map[string]string
}

func NewNamespace(entries ...Entry) (*Namespace, error) {
	ns := &Namespace{
		entries:  make([]Entry, 0, len(entries)),
		byLocal:  map[string]string{},
		byRemote: map[string]string{},
	}
	for _, entry := range entries {
		local := strings.TrimSpace(entry.Local)
		remote := strings.TrimSpace(entry.Remote)
		if local == "" {
			return nil, fmt.Errorf("namespace entry with empty local key")
		}
		if _, dup := ns.byLocal[local]; dup {
			return nil, fmt.Errorf("duplicate local key %q", local)
		}
		if remote != "" {
			if other, dup := ns.byRemote[remote]; dup {
				return nil, fmt.Errorf("remote table %q mapped by both %q and %q", remote, other, local)
			}
			ns.byRemote[remote] = local
		}
		ns.byLocal[local] = remote
		ns.entries = append(ns.entries, Entry{Local: local, Remote: remote})
	}
	return ns, nil
}

// DefaultNamespace is the collection table shipped with the application.
// Attendance is local-only here because it reconciles through its own merge
// path rather than bulk replacement.
func DefaultNamespace() *Namespace {
	ns, err := NewNamespace(
		Entry{Local: CollectionParents, Remote: "parents"},
		Entry{Local: CollectionChildren, Remote: "children"},
		Entry{Local: CollectionSchedules, Remote: "schedules"},
		Entry{Local: CollectionNotifications, Remote: "notifications"},
		Entry{Local: CollectionStaff, Remote: "staff"},
		Entry{Local: CollectionPayments, Remote: "payments"},
		Entry{Local: CollectionParentChildLinks, Remote: "parent_children"},
		Entry{Local: CollectionAttendance},
		Entry{Local: CollectionSettings},
		Entry{Local: CollectionDrafts},
	)
	if err != nil {
		panic(err)
	}
	return ns
}

func (ns *Namespace) RemoteTable(local string) (string, bool) {
	if ns == nil {
		return "", false
	}
	remote, ok := ns.byLocal[local]
	if !ok || remote == "" {
		return "", false
	}
	return remote, true
}

func (ns *Namespace) LocalKey(remote string) (string, bool) {
	if ns == nil {
		return "", false
	}
	local, ok := ns.byRemote[remote]
	return local, ok
}

// Mirrored lists entries that have a remote table, in declaration order.
func (ns *Namespace) Mirrored() []Entry {
	if ns == nil {
		return nil
	}
	out := make([]Entry, 0, len(ns.entries))
	for _, entry := range ns.entries {
		if entry.Remote != "" {
			out = append(out, entry)
		}
	}
	return out
}

func (ns *Namespace) LocalKeys() []string {
	if ns == nil {
		return nil
	}
	out := make([]string, 0, len(ns.entries))
	for _, entry := range ns.entries {
		out = append(out, entry.Local)
	}
	return out
}

func (ns *Namespace) Known(local string) bool {
	if ns == nil {
		return false
	}
	_, ok := ns.byLocal[local]
	return ok
}
