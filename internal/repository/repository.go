package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/models"
)

// Repository persists connector registry entries in the connector_queues schema
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ connector.Store = (*Repository)(nil)

// NewRepository creates a new repository instance
func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger.With("component", "repository")}
}

// SaveConnector inserts the entry or updates the row with the same connector id
func (r *Repository) SaveConnector(ctx context.Context, rec models.ConnectorRecord) error {
	query := `
		INSERT INTO connector_queues.connectors
		       (uuid, connector_id, name, status, config, drained_listen, drained_push, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (connector_id) DO UPDATE
		SET name = EXCLUDED.name,
		    status = EXCLUDED.status,
		    config = EXCLUDED.config,
		    drained_listen = EXCLUDED.drained_listen,
		    drained_push = EXCLUDED.drained_push,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.UUID, rec.Config.ID, rec.Config.Name, string(rec.Status), rec.Config,
		rec.Drained.Listen.MessageCount, rec.Drained.Push.MessageCount,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save connector %s: %w", rec.Config.ID, err)
	}
	r.logger.Debug("SaveConnector", "connector_id", rec.Config.ID, "status", rec.Status)
	return nil
}

// DeleteConnector removes the row for id. A missing row is not an error.
func (r *Repository) DeleteConnector(ctx context.Context, id string) error {
	query := `DELETE FROM connector_queues.connectors WHERE connector_id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete connector %s: %w", id, err)
	}
	r.logger.Debug("DeleteConnector", "connector_id", id)
	return nil
}

// ListConnectors returns every persisted entry ordered by connector id
func (r *Repository) ListConnectors(ctx context.Context) ([]models.ConnectorRecord, error) {
	query := `
		SELECT id, uuid, status, config, drained_listen, drained_push, created_at, updated_at
		FROM connector_queues.connectors
		ORDER BY connector_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ConnectorRecord
	for rows.Next() {
		var rec models.ConnectorRecord
		var status string

		err := rows.Scan(
			&rec.ID, &rec.UUID, &status, &rec.Config,
			&rec.Drained.Listen.MessageCount, &rec.Drained.Push.MessageCount,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Status = models.ConnectorStatus(status)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.Info("ListConnectors: loaded connectors from database", "count", len(records))
	return records, nil
}
