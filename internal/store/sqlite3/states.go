package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/statemanager/internal/service"
)

type stateRow struct {
	ID          string                 `db:"id"`
	RunID       string                 `db:"run_id"`
	Namespace   string                 `db:"namespace"`
	GraphName   string                 `db:"graph_name"`
	Identifier  string                 `db:"identifier"`
	NodeName    string                 `db:"node_name"`
	Status      string                 `db:"status"`
	Inputs      []byte                 `db:"inputs"`
	Outputs     []byte                 `db:"outputs"`
	Error       string                 `db:"error"`
	Parents     []byte                 `db:"parents"`
	RetryCount  int                    `db:"retry_count"`
	LeasedAt    types.Null[types.Time] `db:"leased_at"`
	NextRetryAt types.Null[types.Time] `db:"next_retry_at"`
	Fingerprint string                 `db:"fingerprint"`
	DoesUnites  bool                   `db:"does_unites"`
	CreatedAt   string                 `db:"created_at"`
	UpdatedAt   string                 `db:"updated_at"`
}

func (s *SQLite) CreateStates(ctx context.Context, states []service.State) ([]service.State, error) {
	if len(states) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]goqu.Record, 0, len(states))
	ids := make([]string, 0, len(states))

	for _, st := range states {
		id := st.ID
		if id == "" {
			id = newULID()
		}
		ids = append(ids, id)

		inputsJSON, err := json.Marshal(st.Inputs)
		if err != nil {
			return nil, fmt.Errorf("marshal inputs: %w", err)
		}
		outputsJSON, err := json.Marshal(st.Outputs)
		if err != nil {
			return nil, fmt.Errorf("marshal outputs: %w", err)
		}
		parentsJSON, err := json.Marshal(st.Parents)
		if err != nil {
			return nil, fmt.Errorf("marshal parents: %w", err)
		}

		status := st.Status
		if status == "" {
			status = service.StatusCreated
		}

		rows = append(rows, goqu.Record{
			"id":          id,
			"run_id":      st.RunID,
			"namespace":   st.Namespace,
			"graph_name":  st.GraphName,
			"identifier":  st.Identifier,
			"node_name":   st.NodeName,
			"status":      status,
			"inputs":      inputsJSON,
			"outputs":     outputsJSON,
			"error":       st.Error,
			"parents":     parentsJSON,
			"retry_count": st.RetryCount,
			"fingerprint": st.Fingerprint,
			"does_unites": st.DoesUnites,
			"created_at":  now,
			"updated_at":  now,
		})
	}

	query, _, err := s.goqu.Insert(s.tableStates).Rows(rows).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build create states query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create states: %w", err)
	}

	return s.getStatesByIDs(ctx, ids)
}

func (s *SQLite) GetState(ctx context.Context, id string) (*service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get state query: %w", err)
	}

	var row stateRow
	if err := s.db.QueryRowContext(ctx, query).Scan(stateScanArgs(&row)...); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get state %s: %w", id, err)
	}

	return stateRowToRecord(row)
}

func (s *SQLite) getStatesByIDs(ctx context.Context, ids []string) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(goqu.I("id").In(ids)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get states by ids query: %w", err)
	}

	return s.queryStates(ctx, query)
}

func (s *SQLite) ListStatesByRun(ctx context.Context, runID string) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(goqu.I("run_id").Eq(runID)).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list states by run query: %w", err)
	}

	return s.queryStates(ctx, query)
}

func (s *SQLite) ListStatesByParent(ctx context.Context, runID, parentIdentifier, parentStateID string) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(
			goqu.I("run_id").Eq(runID),
			goqu.L("json_extract(parents, ?) = ?", "$."+parentIdentifier, parentStateID),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list states by parent query: %w", err)
	}

	return s.queryStates(ctx, query)
}

// ListCreatedStates returns up to limit CREATED states for namespace/names,
// oldest first. Non-mutating: the Dispatcher decides which candidates to
// claim and does so with individual UpdateStatus CAS calls, so no
// transaction is needed around this scan.
func (s *SQLite) ListCreatedStates(ctx context.Context, namespace string, names []string, limit int) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(
			goqu.I("namespace").Eq(namespace),
			goqu.I("node_name").In(names),
			goqu.I("status").Eq(service.StatusCreated),
		).
		Order(goqu.I("created_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list created states query: %w", err)
	}

	return s.queryStates(ctx, query)
}

// ListStatesByIdentifier returns every state in a run produced for a given
// node identifier, used by the Dispatcher to evaluate unites join
// satisfaction and to find coalesce-candidate siblings.
func (s *SQLite) ListStatesByIdentifier(ctx context.Context, runID, identifier string) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(
			goqu.I("run_id").Eq(runID),
			goqu.I("identifier").Eq(identifier),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list states by identifier query: %w", err)
	}

	return s.queryStates(ctx, query)
}

func (s *SQLite) UpdateStatus(ctx context.Context, id string, expectedStatus string, fields service.StateUpdate) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	set := goqu.Record{"updated_at": now}

	if fields.Status != "" {
		set["status"] = fields.Status
	}
	if fields.Outputs != nil {
		outputsJSON, err := json.Marshal(fields.Outputs)
		if err != nil {
			return false, fmt.Errorf("marshal outputs: %w", err)
		}
		set["outputs"] = outputsJSON
	}
	if fields.Error != "" {
		set["error"] = fields.Error
	}
	if fields.RetryCount != nil {
		set["retry_count"] = *fields.RetryCount
	}
	if fields.LeasedAt.Valid {
		set["leased_at"] = fields.LeasedAt
	}
	if fields.NextRetryAt.Valid {
		set["next_retry_at"] = fields.NextRetryAt
	}
	if fields.Fingerprint != "" {
		set["fingerprint"] = fields.Fingerprint
	}
	if fields.DoesUnites != nil {
		set["does_unites"] = *fields.DoesUnites
	}

	query, _, err := s.goqu.Update(s.tableStates).Set(set).
		Where(goqu.I("id").Eq(id), goqu.I("status").Eq(expectedStatus)).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build update status query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return false, fmt.Errorf("update status of %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (s *SQLite) ListTimedOutQueued(ctx context.Context, olderThan string, limit int) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(goqu.I("status").Eq(service.StatusQueued), goqu.I("updated_at").Lt(olderThan)).
		Order(goqu.I("updated_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list timed out queued query: %w", err)
	}

	return s.queryStates(ctx, query)
}

func (s *SQLite) ListDueRetries(ctx context.Context, now string, limit int) ([]service.State, error) {
	query, _, err := s.goqu.From(s.tableStates).
		Select(stateColumns()...).
		Where(
			goqu.I("status").Eq(service.StatusErrored),
			goqu.I("next_retry_at").IsNotNull(),
			goqu.I("next_retry_at").Lte(now),
		).
		Order(goqu.I("next_retry_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list due retries query: %w", err)
	}

	return s.queryStates(ctx, query)
}

func (s *SQLite) queryStates(ctx context.Context, query string) ([]service.State, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	return scanStateRows(rows)
}

func scanStateRows(rows *sql.Rows) ([]service.State, error) {
	var result []service.State
	for rows.Next() {
		var row stateRow
		if err := rows.Scan(stateScanArgs(&row)...); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}

		rec, err := stateRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	return result, rows.Err()
}

func stateColumns() []any {
	return []any{
		"id", "run_id", "namespace", "graph_name", "identifier", "node_name", "status",
		"inputs", "outputs", "error", "parents", "retry_count", "leased_at", "next_retry_at",
		"fingerprint", "does_unites", "created_at", "updated_at",
	}
}

func stateScanArgs(row *stateRow) []any {
	return []any{
		&row.ID, &row.RunID, &row.Namespace, &row.GraphName, &row.Identifier, &row.NodeName, &row.Status,
		&row.Inputs, &row.Outputs, &row.Error, &row.Parents, &row.RetryCount, &row.LeasedAt, &row.NextRetryAt,
		&row.Fingerprint, &row.DoesUnites, &row.CreatedAt, &row.UpdatedAt,
	}
}

func stateRowToRecord(row stateRow) (*service.State, error) {
	var inputs, outputs, parents map[string]string
	if err := json.Unmarshal(row.Inputs, &inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Outputs, &outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Parents, &parents); err != nil {
		return nil, fmt.Errorf("unmarshal parents for %s: %w", row.ID, err)
	}

	st := &service.State{
		ID:          row.ID,
		RunID:       row.RunID,
		Namespace:   row.Namespace,
		GraphName:   row.GraphName,
		Identifier:  row.Identifier,
		NodeName:    row.NodeName,
		Status:      row.Status,
		Inputs:      inputs,
		Outputs:     outputs,
		Error:       row.Error,
		Parents:     parents,
		RetryCount:  row.RetryCount,
		LeasedAt:    row.LeasedAt,
		NextRetryAt: row.NextRetryAt,
		Fingerprint: row.Fingerprint,
		DoesUnites:  row.DoesUnites,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}

	return st, nil
}
