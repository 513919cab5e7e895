package rowstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore is a direct-Postgres RowStore backend, for deployments
// that talk to the row-store database without a PostgREST layer in
// front of it. Grounded on generic_repository.go's struct-scanning
// helpers, adapted here to a dynamic jsonb-column row shape since the
// sync engine treats payloads as opaque.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-opened *sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore opens a new connection pool against dsn using the
// lib/pq driver.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// Upsert implements RowStore via `INSERT ... ON CONFLICT (onConflict) DO
// UPDATE`, storing the whole row (key fields included) in a single jsonb
// payload column alongside the id/project_id/updated_at/deleted_at columns.
func (p *PostgresStore) Upsert(ctx context.Context, table string, row Row, onConflict string) error {
	id, _ := row["id"].(string)
	projectID, _ := row["project_id"].(string)
	updatedAt, _ := row["updated_at"].(int64)
	deletedAt, _ := row["deleted_at"].(int64) // zero value when absent/nil, same as an un-deleted row

	payload, err := json.Marshal(row)
	if err != nil {
		return &HTTPFailure{Err: fmt.Errorf("marshal row: %w", err)}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, project_id, updated_at, deleted_at, payload)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5)
		ON CONFLICT (%s) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			payload = EXCLUDED.payload
		WHERE %s.updated_at < EXCLUDED.updated_at
	`, table, onConflict, table)

	if _, err := p.db.ExecContext(ctx, query, id, projectID, updatedAt, deletedAt, payload); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

// Select implements RowStore with the §6 filter contract: project_id
// equality, deleted_at IS NULL, and an optional updated_at > since.
func (p *PostgresStore) Select(ctx context.Context, table string, opts SelectOptions) ([]Row, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE deleted_at IS NULL`, table)
	args := []any{}
	argN := 1

	if opts.ProjectID != "" {
		query += fmt.Sprintf(" AND project_id = $%d", argN)
		args = append(args, opts.ProjectID)
		argN++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at > $%d", argN)
		args = append(args, *opts.Since)
		argN++
	}

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var decoded Row
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, decoded)
	}
	return out, rows.Err()
}

func classifyPostgresError(err error) error {
	return &HTTPFailure{Err: fmt.Errorf("postgres row store: %w", err)}
}
