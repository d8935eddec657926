package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/statemanager/internal/service"
)

type storeEntryRow struct {
	ID        string `db:"id"`
	RunID     string `db:"run_id"`
	Namespace string `db:"namespace"`
	GraphName string `db:"graph_name"`
	Key       string `db:"key"`
	Value     string `db:"value"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLite) PutStoreEntry(ctx context.Context, e service.StoreEntry) (*service.StoreEntry, error) {
	existing, err := s.GetStoreEntry(ctx, e.RunID, e.Namespace, e.GraphName, e.Key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if existing == nil {
		id := newULID()

		query, _, err := s.goqu.Insert(s.tableStoreEntries).Rows(
			goqu.Record{
				"id":         id,
				"run_id":     e.RunID,
				"namespace":  e.Namespace,
				"graph_name": e.GraphName,
				"key":        e.Key,
				"value":      e.Value,
				"created_at": now,
				"updated_at": now,
			},
		).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert store entry query: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("create store entry %s: %w", e.Key, err)
		}

		return s.GetStoreEntry(ctx, e.RunID, e.Namespace, e.GraphName, e.Key)
	}

	query, _, err := s.goqu.Update(s.tableStoreEntries).Set(
		goqu.Record{"value": e.Value, "updated_at": now},
	).Where(
		goqu.I("run_id").Eq(e.RunID),
		goqu.I("namespace").Eq(e.Namespace),
		goqu.I("graph_name").Eq(e.GraphName),
		goqu.I("key").Eq(e.Key),
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update store entry query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update store entry %s: %w", e.Key, err)
	}

	return s.GetStoreEntry(ctx, e.RunID, e.Namespace, e.GraphName, e.Key)
}

func (s *SQLite) GetStoreEntry(ctx context.Context, runID, namespace, graphName, key string) (*service.StoreEntry, error) {
	query, _, err := s.goqu.From(s.tableStoreEntries).
		Select("id", "run_id", "namespace", "graph_name", "key", "value", "created_at", "updated_at").
		Where(
			goqu.I("run_id").Eq(runID),
			goqu.I("namespace").Eq(namespace),
			goqu.I("graph_name").Eq(graphName),
			goqu.I("key").Eq(key),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get store entry query: %w", err)
	}

	var row storeEntryRow
	err = s.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.RunID, &row.Namespace, &row.GraphName, &row.Key, &row.Value, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store entry %s: %w", key, err)
	}

	return storeEntryRowToRecord(row), nil
}

func (s *SQLite) ListStoreEntries(ctx context.Context, runID, namespace, graphName string) ([]service.StoreEntry, error) {
	query, _, err := s.goqu.From(s.tableStoreEntries).
		Select("id", "run_id", "namespace", "graph_name", "key", "value", "created_at", "updated_at").
		Where(
			goqu.I("run_id").Eq(runID),
			goqu.I("namespace").Eq(namespace),
			goqu.I("graph_name").Eq(graphName),
		).
		Order(goqu.I("key").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list store entries query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list store entries: %w", err)
	}
	defer rows.Close()

	var result []service.StoreEntry
	for rows.Next() {
		var row storeEntryRow
		if err := rows.Scan(
			&row.ID, &row.RunID, &row.Namespace, &row.GraphName, &row.Key, &row.Value, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan store entry row: %w", err)
		}
		result = append(result, *storeEntryRowToRecord(row))
	}

	return result, rows.Err()
}

func storeEntryRowToRecord(row storeEntryRow) *service.StoreEntry {
	return &service.StoreEntry{
		ID:        row.ID,
		RunID:     row.RunID,
		Namespace: row.Namespace,
		GraphName: row.GraphName,
		Key:       row.Key,
		Value:     row.Value,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
