package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/rakunlabs/statemanager/internal/service"
)

type registeredNodeRow struct {
	ID            string    `db:"id"`
	Namespace     string    `db:"namespace"`
	Name          string    `db:"name"`
	InputsSchema  []byte    `db:"inputs_schema"`
	OutputsSchema []byte    `db:"outputs_schema"`
	Secrets       []byte    `db:"secrets"`
	RetryPolicy   []byte    `db:"retry_policy"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// RegisterNode upserts by (namespace, name), mirroring the original
// register() endpoint's idempotent re-registration semantics.
func (p *Postgres) RegisterNode(ctx context.Context, node service.RegisteredNode) (*service.RegisteredNode, error) {
	inputsJSON, err := json.Marshal(node.InputsSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs_schema: %w", err)
	}
	outputsJSON, err := json.Marshal(node.OutputsSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal outputs_schema: %w", err)
	}
	secretsJSON, err := json.Marshal(node.Secrets)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}
	retryJSON, err := json.Marshal(node.RetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("marshal retry_policy: %w", err)
	}

	existing, err := p.GetRegisteredNode(ctx, node.Namespace, node.Name)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if existing == nil {
		id := newULID()

		query, _, err := p.goqu.Insert(p.tableRegisteredNodes).Rows(
			goqu.Record{
				"id":             id,
				"namespace":      node.Namespace,
				"name":           node.Name,
				"inputs_schema":  inputsJSON,
				"outputs_schema": outputsJSON,
				"secrets":        secretsJSON,
				"retry_policy":   retryJSON,
				"created_at":     now,
				"updated_at":     now,
			},
		).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build register node insert: %w", err)
		}

		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("register node %s/%s: %w", node.Namespace, node.Name, err)
		}

		return p.GetRegisteredNode(ctx, node.Namespace, node.Name)
	}

	query, _, err := p.goqu.Update(p.tableRegisteredNodes).Set(
		goqu.Record{
			"inputs_schema":  inputsJSON,
			"outputs_schema": outputsJSON,
			"secrets":        secretsJSON,
			"retry_policy":   retryJSON,
			"updated_at":     now,
		},
	).Where(goqu.I("namespace").Eq(node.Namespace), goqu.I("name").Eq(node.Name)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build register node update: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("re-register node %s/%s: %w", node.Namespace, node.Name, err)
	}

	return p.GetRegisteredNode(ctx, node.Namespace, node.Name)
}

func (p *Postgres) GetRegisteredNode(ctx context.Context, namespace, name string) (*service.RegisteredNode, error) {
	query, _, err := p.goqu.From(p.tableRegisteredNodes).
		Select("id", "namespace", "name", "inputs_schema", "outputs_schema", "secrets", "retry_policy", "created_at", "updated_at").
		Where(goqu.I("namespace").Eq(namespace), goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get registered node query: %w", err)
	}

	var row registeredNodeRow
	err = p.db.QueryRowContext(ctx, query).Scan(
		&row.ID, &row.Namespace, &row.Name, &row.InputsSchema, &row.OutputsSchema,
		&row.Secrets, &row.RetryPolicy, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registered node %s/%s: %w", namespace, name, err)
	}

	return registeredNodeRowToRecord(row)
}

func (p *Postgres) ListRegisteredNodes(ctx context.Context, namespace string) ([]service.RegisteredNode, error) {
	sel := p.goqu.From(p.tableRegisteredNodes).
		Select("id", "namespace", "name", "inputs_schema", "outputs_schema", "secrets", "retry_policy", "created_at", "updated_at").
		Order(goqu.I("name").Asc())

	if namespace != "" {
		sel = sel.Where(goqu.I("namespace").Eq(namespace))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list registered nodes query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registered nodes: %w", err)
	}
	defer rows.Close()

	var result []service.RegisteredNode
	for rows.Next() {
		var row registeredNodeRow
		if err := rows.Scan(
			&row.ID, &row.Namespace, &row.Name, &row.InputsSchema, &row.OutputsSchema,
			&row.Secrets, &row.RetryPolicy, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan registered node row: %w", err)
		}

		rec, err := registeredNodeRowToRecord(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	return result, rows.Err()
}

func registeredNodeRowToRecord(row registeredNodeRow) (*service.RegisteredNode, error) {
	var inputsSchema, outputsSchema map[string]any
	if err := json.Unmarshal(row.InputsSchema, &inputsSchema); err != nil {
		return nil, fmt.Errorf("unmarshal inputs_schema for %s/%s: %w", row.Namespace, row.Name, err)
	}
	if err := json.Unmarshal(row.OutputsSchema, &outputsSchema); err != nil {
		return nil, fmt.Errorf("unmarshal outputs_schema for %s/%s: %w", row.Namespace, row.Name, err)
	}

	var secrets []string
	if err := json.Unmarshal(row.Secrets, &secrets); err != nil {
		return nil, fmt.Errorf("unmarshal secrets for %s/%s: %w", row.Namespace, row.Name, err)
	}

	var retryPolicy service.RetryPolicy
	if err := json.Unmarshal(row.RetryPolicy, &retryPolicy); err != nil {
		return nil, fmt.Errorf("unmarshal retry_policy for %s/%s: %w", row.Namespace, row.Name, err)
	}

	return &service.RegisteredNode{
		ID:            row.ID,
		Namespace:     row.Namespace,
		Name:          row.Name,
		InputsSchema:  inputsSchema,
		OutputsSchema: outputsSchema,
		Secrets:       secrets,
		RetryPolicy:   retryPolicy,
		CreatedAt:     row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     row.UpdatedAt.Format(time.RFC3339),
	}, nil
}
