package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const (
	CREATE_REGISTRY_TABLE = `CREATE TABLE IF NOT EXISTS task_registry(
		nonce VARCHAR(255) PRIMARY KEY,
		repo_name VARCHAR(255) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	upsertRegistryEntry = `INSERT INTO task_registry(nonce, repo_name, updated_at) VALUES($1, $2, NOW())
		ON CONFLICT (nonce) DO UPDATE SET repo_name = EXCLUDED.repo_name, updated_at = NOW()`

	selectRegistryEntry = "SELECT repo_name FROM task_registry WHERE nonce=$1"
)

// PostgresRegistry persists the nonce mapping so round 2 survives a restart.
type PostgresRegistry struct {
	db *sqlx.DB
}

func NewPostgresRegistry(ctx context.Context, autoCreate bool, db *sqlx.DB) (*PostgresRegistry, error) {
	if autoCreate {
		if _, err := db.ExecContext(ctx, CREATE_REGISTRY_TABLE); err != nil {
			return nil, err
		}
	}
	return &PostgresRegistry{db: db}, nil
}

func (r *PostgresRegistry) Lookup(ctx context.Context, nonce string) (string, bool, error) {
	var name string
	err := r.db.GetContext(ctx, &name, selectRegistryEntry, nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (r *PostgresRegistry) Record(ctx context.Context, nonce, projectName string) error {
	_, err := r.db.ExecContext(ctx, upsertRegistryEntry, nonce, projectName)
	return err
}
