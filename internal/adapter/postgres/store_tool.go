package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/toolgate/internal/domain/tool"
)

const toolColumns = `name, description, enabled, requires_auth, requires_payment, cost_per_execution, schema,
	implementation_ref, triggers, execution_count, success_rate, version, created_at, updated_at`

func scanTool(row scannable) (tool.Definition, error) {
	var (
		d                tool.Definition
		schema, triggers []byte
	)
	if err := row.Scan(&d.Name, &d.Description, &d.Enabled, &d.RequiresAuth, &d.RequiresPayment, &d.CostPerExecution,
		&schema, &d.ImplementationRef, &triggers, &d.Meta.ExecutionCount, &d.Meta.SuccessRate,
		&d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	if err := unmarshalJSON(schema, &d.Schema); err != nil {
		return d, fmt.Errorf("decode tool schema: %w", err)
	}
	if err := unmarshalJSON(triggers, &d.Triggers); err != nil {
		return d, fmt.Errorf("decode tool triggers: %w", err)
	}
	return d, nil
}

func (s *Store) ListTools(ctx context.Context) ([]tool.Definition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+toolColumns+` FROM tools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var defs []tool.Definition
	for rows.Next() {
		d, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *Store) GetTool(ctx context.Context, name string) (*tool.Definition, error) {
	d, err := scanTool(s.pool.QueryRow(ctx, `SELECT `+toolColumns+` FROM tools WHERE name = $1`, name))
	if err != nil {
		return nil, notFoundWrap(err, "get tool %s", name)
	}
	return &d, nil
}

// UpsertTool inserts d or replaces the stored definition with the same
// name. Replacing keeps the execution statistics and bumps the version.
func (s *Store) UpsertTool(ctx context.Context, d *tool.Definition) error {
	schema, err := json.Marshal(d.Schema)
	if err != nil {
		return fmt.Errorf("marshal tool schema: %w", err)
	}
	triggers, err := json.Marshal(orEmpty(d.Triggers))
	if err != nil {
		return fmt.Errorf("marshal tool triggers: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO tools (name, description, enabled, requires_auth, requires_payment, cost_per_execution, schema, implementation_ref, triggers)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name) DO UPDATE SET
		   description = EXCLUDED.description,
		   enabled = EXCLUDED.enabled,
		   requires_auth = EXCLUDED.requires_auth,
		   requires_payment = EXCLUDED.requires_payment,
		   cost_per_execution = EXCLUDED.cost_per_execution,
		   schema = EXCLUDED.schema,
		   implementation_ref = EXCLUDED.implementation_ref,
		   triggers = EXCLUDED.triggers,
		   version = tools.version + 1,
		   updated_at = now()
		 RETURNING execution_count, success_rate, version, created_at, updated_at`,
		d.Name, d.Description, d.Enabled, d.RequiresAuth, d.RequiresPayment, d.CostPerExecution, schema, d.ImplementationRef, triggers,
	).Scan(&d.Meta.ExecutionCount, &d.Meta.SuccessRate, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert tool %s: %w", d.Name, err)
	}
	return nil
}

func (s *Store) DeleteTool(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tools WHERE name = $1`, name)
	return execExpectOne(tag, err, "delete tool %s", name)
}

// RecordToolOutcome folds one outcome into the rolling statistics in a
// single statement. SET expressions read the pre-update row.
func (s *Store) RecordToolOutcome(ctx context.Context, name string, success bool) (tool.Meta, error) {
	var hit float64
	if success {
		hit = 1
	}
	var m tool.Meta
	err := s.pool.QueryRow(ctx,
		`UPDATE tools SET
		   success_rate = (success_rate * execution_count + $2) / (execution_count + 1),
		   execution_count = execution_count + 1
		 WHERE name = $1
		 RETURNING execution_count, success_rate`, name, hit,
	).Scan(&m.ExecutionCount, &m.SuccessRate)
	if err != nil {
		return tool.Meta{}, notFoundWrap(err, "record outcome for tool %s", name)
	}
	return m, nil
}
