package syncengine

import (
	"strings"
	"sync"

	"github.com/agentworkforce/recordsync/internal/localstore"
)

// FlagSyncSuppressed is the store flag set before a destructive bulk
// operation and consumed by the next hydration.
const FlagSyncSuppressed = "syncSuppressed"

// Session is the signed-in identity whose token authorizes remote calls and
// whose organization is stamped on new records.
type Session interface {
	AccessToken() string
	OrganizationID() string
}

type StaticSession struct {
	Token        string
	Organization string
}

func (s StaticSession) AccessToken() string    { return s.Token }
func (s StaticSession) OrganizationID() string { return s.Organization }

// SyncContext holds the state shared across engine calls: the suppression
// flag, persisted in the local store, and the active session.
type SyncContext struct {
	store localstore.Store

	mu      sync.RWMutex
	session Session
}

func NewSyncContext(store localstore.Store, session Session) *SyncContext {
	return &SyncContext{store: store, session: session}
}

func (c *SyncContext) Suppressed() (bool, error) {
	return c.store.Flag(FlagSyncSuppressed)
}

func (c *SyncContext) SetSuppressed(value bool) error {
	return c.store.SetFlag(FlagSyncSuppressed, value)
}

// ConsumeSuppression reports whether the flag was set and clears it.
func (c *SyncContext) ConsumeSuppression() (bool, error) {
	set, err := c.store.Flag(FlagSyncSuppressed)
	if err != nil || !set {
		return false, err
	}
	if err := c.store.SetFlag(FlagSyncSuppressed, false); err != nil {
		return true, err
	}
	return true, nil
}

func (c *SyncContext) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *SyncContext) SetSession(session Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// AccessToken returns the session token, or "" when signed out. It is shaped
// to plug into postgrest.Options.Token.
func (c *SyncContext) AccessToken() string {
	session := c.Session()
	if session == nil {
		return ""
	}
	return strings.TrimSpace(session.AccessToken())
}

func (c *SyncContext) OrganizationID() string {
	session := c.Session()
	if session == nil {
		return ""
	}
	return strings.TrimSpace(session.OrganizationID())
}
