// Package store selects and wires a concrete persistence backend
// (PostgreSQL or SQLite) behind the service package's Storer interfaces.
package store

import (
	"context"
	"errors"

	"github.com/rakunlabs/statemanager/internal/config"
	"github.com/rakunlabs/statemanager/internal/service"
	"github.com/rakunlabs/statemanager/internal/store/postgres"
	"github.com/rakunlabs/statemanager/internal/store/sqlite3"
)

// StorerClose combines every domain Storer interface with a Close method.
type StorerClose interface {
	service.RegisteredNodeStorer
	service.GraphTemplateStorer
	service.StateStorer
	service.StoreEntryStorer
	Close()
}

// New creates a StorerClose based on the given store configuration. If
// cfg.Postgres is set it is used (even when cfg.SQLite is also set);
// otherwise cfg.SQLite is used; if neither is set, New returns an error.
func New(ctx context.Context, cfg config.Store, encKey []byte) (StorerClose, error) {
	switch {
	case cfg.Postgres != nil:
		return postgres.New(ctx, cfg.Postgres, encKey)
	case cfg.SQLite != nil:
		return sqlite3.New(ctx, cfg.SQLite, encKey)
	default:
		return nil, errors.New("no store configured: set store.postgres or store.sqlite")
	}
}
