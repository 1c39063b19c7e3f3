package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chenyanchen/lazypkg/bundle"
)

// Querier is the subset of *pgxpool.Pool and pgx.Tx the Postgres store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps bundles as jsonb rows in lazypkg_bundles.
type PostgresStore struct {
	DB Querier
}

// EnsureSchema creates the bundle table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("nil postgres querier")
	}
	_, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS lazypkg_bundles (
    name TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, name string) (bundle.Bundle, error) {
	var raw []byte
	err := s.DB.QueryRow(ctx, `SELECT payload FROM lazypkg_bundles WHERE name=$1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return bundle.Bundle{}, ErrNotFound
	}
	if err != nil {
		return bundle.Bundle{}, err
	}
	var out bundle.Bundle
	if err := json.Unmarshal(raw, &out); err != nil {
		return bundle.Bundle{}, fmt.Errorf("decode bundle %s: %w", name, err)
	}
	return out, nil
}

func (s *PostgresStore) Set(ctx context.Context, name string, b bundle.Bundle) error {
	b.Name = name
	if err := b.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO lazypkg_bundles (name, payload) VALUES ($1, $2::jsonb)
ON CONFLICT (name) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`, name, string(payload))
	return err
}

func (s *PostgresStore) Del(ctx context.Context, name string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM lazypkg_bundles WHERE name=$1`, name)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT name FROM lazypkg_bundles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
