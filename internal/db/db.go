package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Schema holds the registry table. Statements are idempotent.
const Schema = `
CREATE SCHEMA IF NOT EXISTS connector_queues;

CREATE TABLE IF NOT EXISTS connector_queues.connectors (
	id             BIGSERIAL PRIMARY KEY,
	uuid           UUID NOT NULL,
	connector_id   TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	config         JSONB NOT NULL,
	drained_listen INTEGER NOT NULL DEFAULT 0,
	drained_push   INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
`

type Database struct {
	DB *sql.DB
}

func Connect(ctx context.Context, uri string) (*Database, error) {
	if uri == "" {
		return nil, errors.New("POSTGRES_URI is required to connect to database")
	}
	// sql.Open does not dial; Ping verifies the DSN.
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Database{DB: db}, nil
}

// Migrate creates the registry schema if it does not exist yet
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate registry schema: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
