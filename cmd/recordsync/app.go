package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agentworkforce/recordsync/internal/attendance"
	"github.com/agentworkforce/recordsync/internal/config"
	"github.com/agentworkforce/recordsync/internal/localstore"
	"github.com/agentworkforce/recordsync/internal/naming"
	"github.com/agentworkforce/recordsync/internal/notifications"
	"github.com/agentworkforce/recordsync/internal/outbox"
	"github.com/agentworkforce/recordsync/internal/postgrest"
	"github.com/agentworkforce/recordsync/internal/record"
	"github.com/agentworkforce/recordsync/internal/syncengine"
)

type app struct {
	cfg           config.Config
	logger        *slog.Logger
	store         localstore.Store
	queue         outbox.Queue
	engine        *syncengine.Engine
	notifications *notifications.Service
	attendance    *attendance.Service
}

func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := localstore.BuildFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	syncCtx := syncengine.NewSyncContext(store, syncengine.StaticSession{
		Token:        cfg.Session.Token,
		Organization: cfg.Session.OrganizationID,
	})

	var remote postgrest.API
	if cfg.RemoteEnabled() {
		remote = postgrest.NewClient(cfg.Remote.URL, postgrest.Options{
			APIKey:     cfg.Remote.APIKey,
			Token:      syncCtx.AccessToken,
			HTTPClient: &http.Client{Timeout: cfg.Remote.Timeout.Duration},
		})
	}

	ns := naming.DefaultNamespace()
	mirror := syncengine.NewMirror(remote, ns, logger)
	queue, err := outbox.BuildFromDSN(cfg.Outbox.DSN, cfg.Outbox.Capacity, mirror.Apply, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	engine, err := syncengine.New(syncengine.Options{
		Store:     store,
		Namespace: ns,
		Remote:    remote,
		Queue:     queue,
		Context:   syncCtx,
		Logger:    logger,
		Seeds:     defaultSeeds(),
		Renames:   defaultRenames(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifications.NewService(engine, logger)
	engine.OnHydrated(notif.AfterHydration)

	return &app{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		queue:         queue,
		engine:        engine,
		notifications: notif,
		attendance:    attendance.NewService(engine, remote, attendance.Options{Logger: logger}),
	}, nil
}

// close waits for mirror ops queued by this process before releasing the
// store.
func (a *app) close(ctx context.Context) error {
	switch q := a.queue.(type) {
	case *outbox.Immediate:
		q.Wait()
	case *outbox.Buffered:
		if n := q.Flush(ctx); n > 0 {
			a.logger.Debug("outbox flushed", "ops", n)
		}
		_ = q.Close()
	}
	return a.store.Close()
}

func defaultSeeds() map[string][]record.Record {
	return map[string][]record.Record{
		naming.CollectionSettings: {
			{"id": "preferences", "theme": "light", "weekStartsOn": "monday", "reportFormat": "daily"},
		},
	}
}

func defaultRenames() []syncengine.Rename {
	return []syncengine.Rename{
		{Collection: naming.CollectionChildren, From: "dob", To: "dateOfBirth"},
		{Collection: naming.CollectionStaff, From: "role", To: "position"},
	}
}
