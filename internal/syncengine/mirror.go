package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/record"
)

// Mirror replays outbox ops against the remote store. Apply is an
// outbox.Handler: failures are logged and returned for the queue's counters,
// and nothing is retried.
type Mirror struct {
	remote postgrest.API
	ns     *naming.Namespace
	logger *slog.Logger
}

func NewMirror(remote postgrest.API, ns *naming.Namespace, logger *slog.Logger) *Mirror {
	if ns == nil {
		ns = naming.DefaultNamespace()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{remote: remote, ns: ns, logger: logger}
}

func (m *Mirror) Apply(ctx context.Context, op outbox.Op) error {
	table, ok := m.ns.RemoteTable(op.Collection)
	if !ok || m.remote == nil {
		return nil
	}
	err := m.apply(ctx, table, op)
	if err != nil {
		m.logger.Warn("remote mirror failed",
			"collection", op.Collection,
			"table", table,
			"action", string(op.Action),
			"id", op.RecordID,
			"err", err,
		)
	}
	return err
}

func (m *Mirror) apply(ctx context.Context, table string, op outbox.Op) error {
	switch op.Action {
	case outbox.ActionInsert:
		_, err := m.remote.Insert(ctx, table, naming.ToRemote(op.Record))
		return err
	case outbox.ActionUpdate:
		_, err := m.remote.Update(ctx, table, op.RecordID, naming.ToRemote(op.Record))
		return err
	case outbox.ActionDelete:
		return m.remote.Delete(ctx, table, op.RecordID)
	case outbox.ActionDeleteAll:
		return m.remote.DeleteAll(ctx, table)
	case outbox.ActionReplace:
		if err := m.remote.DeleteAll(ctx, table); err != nil {
			return err
		}
		if len(op.Records) == 0 {
			return nil
		}
		rows := make([]record.Record, 0, len(op.Records))
		for _, rec := range op.Records {
			rows = append(rows, naming.ToRemote(rec))
		}
		_, err := m.remote.Insert(ctx, table, rows...)
		return err
	default:
		return fmt.Errorf("%w: unknown mirror action %q", ErrInvalidInput, op.Action)
	}
}
