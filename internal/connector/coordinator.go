package connector

import (
	"context"
	"fmt"
	"log/slog"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
)

// Coordinator decommissions a connector: it deletes both queues, counting
// the messages they held, and only then drops the registry entry.
type Coordinator struct {
	registry *Registry
	broker   queue.Provider
	logger   *slog.Logger
}

func NewCoordinator(registry *Registry, broker queue.Provider, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: registry,
		broker:   broker,
		logger:   logger.With("component", "deregistration"),
	}
}

// UnregisterConnector drains and deletes the connector's queues and removes
// its registry entry.
//
// Unknown identities fail with ErrNotFound and touch nothing. If the listen
// queue goes but the push queue does not, the entry is kept in
// cleanup_pending state and a *PartialDeregistrationError carries the listen
// count. A later call resumes and reports cumulative counts.
func (c *Coordinator) UnregisterConnector(ctx context.Context, id string) (models.DrainReport, error) {
	unlock := c.registry.locks.Lock(id)
	defer unlock()

	rec, ok := c.registry.get(id)
	if !ok {
		return models.DrainReport{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cfg := rec.Config

	listen, err := c.broker.DeleteQueue(ctx, cfg.Listen)
	if err != nil {
		return models.DrainReport{}, fmt.Errorf("delete listen queue %s: %w", cfg.Listen, err)
	}
	report := rec.Drained.Add(models.DrainReport{Listen: models.QueueDrain{MessageCount: listen}})

	push, err := c.broker.DeleteQueue(ctx, cfg.Push)
	if err != nil {
		if markErr := c.registry.markCleanupPending(ctx, id, report); markErr != nil {
			c.logger.Error("could not record partial deregistration", "connector_id", id, "error", markErr)
		}
		c.logger.Warn("partial deregistration",
			"connector_id", id, "listen_drained", report.Listen.MessageCount, "error", err)
		return report, &PartialDeregistrationError{ID: id, Report: report, Err: err}
	}
	report = report.Add(models.DrainReport{Push: models.QueueDrain{MessageCount: push}})

	if err := c.registry.remove(ctx, id); err != nil {
		if markErr := c.registry.markCleanupPending(ctx, id, report); markErr != nil {
			c.logger.Error("could not record partial deregistration", "connector_id", id, "error", markErr)
		}
		return report, err
	}

	c.logger.Info("connector unregistered",
		"connector_id", id,
		"listen_drained", report.Listen.MessageCount,
		"push_drained", report.Push.MessageCount)
	return report, nil
}

// PurgeOrphan deletes the queues named after id when no registry entry owns
// them. It fails with ErrAlreadyRegistered if the identity is registered by
// the time the lock is taken.
func (c *Coordinator) PurgeOrphan(ctx context.Context, id string) (models.DrainReport, error) {
	unlock := c.registry.locks.Lock(id)
	defer unlock()

	if _, ok := c.registry.get(id); ok {
		return models.DrainReport{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	var report models.DrainReport
	listen, err := c.broker.DeleteQueue(ctx, ListenQueue(id))
	if err != nil {
		return report, fmt.Errorf("delete orphan queue %s: %w", ListenQueue(id), err)
	}
	report.Listen.MessageCount = listen

	push, err := c.broker.DeleteQueue(ctx, PushQueue(id))
	if err != nil {
		return report, fmt.Errorf("delete orphan queue %s: %w", PushQueue(id), err)
	}
	report.Push.MessageCount = push

	c.logger.Info("orphan queues deleted",
		"connector_id", id,
		"listen_drained", report.Listen.MessageCount,
		"push_drained", report.Push.MessageCount)
	return report, nil
}
