package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/worldline-go/types"

	atcrypto "github.com/rakunlabs/statemanager/internal/crypto"
	"github.com/rakunlabs/statemanager/internal/service"
)

type graphTemplateRow struct {
	Namespace        string    `db:"namespace"`
	Name             string    `db:"name"`
	Nodes            []byte    `db:"nodes"`
	StoreConfig      []byte    `db:"store_config"`
	Secrets          []byte    `db:"secrets"`
	ValidationStatus string    `db:"validation_status"`
	ValidationErrors []byte    `db:"validation_errors"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// PutGraphTemplate upserts by (namespace, name). Secrets are encrypted at
// rest when an encryption key is configured.
func (p *Postgres) PutGraphTemplate(ctx context.Context, g service.GraphTemplate) (*service.GraphTemplate, error) {
	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	encSecrets, err := atcrypto.EncryptSecrets(g.Secrets, encKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt graph template secrets: %w", err)
	}

	nodesJSON, err := json.Marshal(g.Nodes)
	if err != nil {
		return nil, fmt.Errorf("marshal nodes: %w", err)
	}
	storeConfigJSON, err := json.Marshal(g.StoreConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal store_config: %w", err)
	}
	secretsJSON, err := json.Marshal(encSecrets)
	if err != nil {
		return nil, fmt.Errorf("marshal secrets: %w", err)
	}
	validationErrorsJSON, err := json.Marshal(g.ValidationErrors)
	if err != nil {
		return nil, fmt.Errorf("marshal validation_errors: %w", err)
	}

	validationStatus := g.ValidationStatus
	if validationStatus == "" {
		validationStatus = service.ValidationPending
	}

	now := time.Now().UTC()

	existing, err := p.GetGraphTemplate(ctx, g.Namespace, g.Name)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		query, _, err := p.goqu.Insert(p.tableGraphTemplates).Rows(
			goqu.Record{
				"namespace":         g.Namespace,
				"name":              g.Name,
				"nodes":             nodesJSON,
				"store_config":      storeConfigJSON,
				"secrets":           secretsJSON,
				"validation_status": validationStatus,
				"validation_errors": validationErrorsJSON,
				"created_at":        now,
				"updated_at":        now,
			},
		).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert graph template query: %w", err)
		}

		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("create graph template %s/%s: %w", g.Namespace, g.Name, err)
		}

		return p.GetGraphTemplate(ctx, g.Namespace, g.Name)
	}

	query, _, err := p.goqu.Update(p.tableGraphTemplates).Set(
		goqu.Record{
			"nodes":             nodesJSON,
			"store_config":      storeConfigJSON,
			"secrets":           secretsJSON,
			"validation_status": validationStatus,
			"validation_errors": validationErrorsJSON,
			"updated_at":        now,
		},
	).Where(goqu.I("namespace").Eq(g.Namespace), goqu.I("name").Eq(g.Name)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update graph template query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update graph template %s/%s: %w", g.Namespace, g.Name, err)
	}

	return p.GetGraphTemplate(ctx, g.Namespace, g.Name)
}

func (p *Postgres) GetGraphTemplate(ctx context.Context, namespace, name string) (*service.GraphTemplate, error) {
	query, _, err := p.goqu.From(p.tableGraphTemplates).
		Select("namespace", "name", "nodes", "store_config", "secrets", "validation_status", "validation_errors", "created_at", "updated_at").
		Where(goqu.I("namespace").Eq(namespace), goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get graph template query: %w", err)
	}

	var row graphTemplateRow
	err = p.db.QueryRowContext(ctx, query).Scan(
		&row.Namespace, &row.Name, &row.Nodes, &row.StoreConfig, &row.Secrets,
		&row.ValidationStatus, &row.ValidationErrors, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get graph template %s/%s: %w", namespace, name, err)
	}

	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	return graphTemplateRowToRecord(row, encKey)
}

func (p *Postgres) ListGraphTemplates(ctx context.Context, namespace string) ([]service.GraphTemplate, error) {
	sel := p.goqu.From(p.tableGraphTemplates).
		Select("namespace", "name", "nodes", "store_config", "secrets", "validation_status", "validation_errors", "created_at", "updated_at").
		Order(goqu.I("name").Asc())

	if namespace != "" {
		sel = sel.Where(goqu.I("namespace").Eq(namespace))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list graph templates query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list graph templates: %w", err)
	}
	defer rows.Close()

	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	var result []service.GraphTemplate
	for rows.Next() {
		var row graphTemplateRow
		if err := rows.Scan(
			&row.Namespace, &row.Name, &row.Nodes, &row.StoreConfig, &row.Secrets,
			&row.ValidationStatus, &row.ValidationErrors, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan graph template row: %w", err)
		}

		rec, err := graphTemplateRowToRecord(row, encKey)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	return result, rows.Err()
}

func graphTemplateRowToRecord(row graphTemplateRow, encKey []byte) (*service.GraphTemplate, error) {
	var nodes []service.NodeTemplate
	if err := json.Unmarshal(row.Nodes, &nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes for %s/%s: %w", row.Namespace, row.Name, err)
	}

	var storeConfig service.StoreConfig
	if err := json.Unmarshal(row.StoreConfig, &storeConfig); err != nil {
		return nil, fmt.Errorf("unmarshal store_config for %s/%s: %w", row.Namespace, row.Name, err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(row.Secrets, &secrets); err != nil {
		return nil, fmt.Errorf("unmarshal secrets for %s/%s: %w", row.Namespace, row.Name, err)
	}

	decSecrets, err := atcrypto.DecryptSecrets(secrets, encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets for %s/%s: %w", row.Namespace, row.Name, err)
	}

	var validationErrors types.Slice[string]
	if err := json.Unmarshal(row.ValidationErrors, &validationErrors); err != nil {
		return nil, fmt.Errorf("unmarshal validation_errors for %s/%s: %w", row.Namespace, row.Name, err)
	}

	return &service.GraphTemplate{
		Namespace:        row.Namespace,
		Name:             row.Name,
		Nodes:            nodes,
		StoreConfig:      storeConfig,
		Secrets:          decSecrets,
		ValidationStatus: row.ValidationStatus,
		ValidationErrors: validationErrors,
		CreatedAt:        row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        row.UpdatedAt.Format(time.RFC3339),
	}, nil
}
