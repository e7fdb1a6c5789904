package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"connector-queue-manager/internal/models"

	"github.com/google/uuid"
)

const storeTimeout = 5 * time.Second

// Store persists registry entries. The repository package implements it
// on Postgres; a nil Store keeps the registry in memory only.
type Store interface {
	SaveConnector(ctx context.Context, rec models.ConnectorRecord) error
	DeleteConnector(ctx context.Context, id string) error
	ListConnectors(ctx context.Context) ([]models.ConnectorRecord, error)
}

// Registry maps connector identities to their provisioned resources.
//
// Work on one identity is serialized by a per-identity lock; mu only guards
// the map itself and is never held across broker or store calls.
type Registry struct {
	provisioner *Provisioner
	store       Store
	logger      *slog.Logger
	now         func() time.Time

	locks keyedMutex

	mu      sync.RWMutex
	entries map[string]models.ConnectorRecord
}

func NewRegistry(provisioner *Provisioner, store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		provisioner: provisioner,
		store:       store,
		logger:      logger.With("component", "registry"),
		now:         func() time.Time { return time.Now().UTC() },
		entries:     make(map[string]models.ConnectorRecord),
	}
}

// Register provisions queues for a new connector and records them. It fails
// with ErrAlreadyRegistered while an entry exists for the identity, without
// touching the broker.
func (r *Registry) Register(ctx context.Context, req Request) (models.ConnectorQueueConfig, error) {
	if err := ValidateIdentity(req.ID); err != nil {
		return models.ConnectorQueueConfig{}, err
	}

	unlock := r.locks.Lock(req.ID)
	defer unlock()

	if _, ok := r.get(req.ID); ok {
		return models.ConnectorQueueConfig{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, req.ID)
	}

	cfg, err := r.provisioner.Provision(ctx, req)
	if err != nil {
		return models.ConnectorQueueConfig{}, err
	}

	now := r.now()
	rec := models.ConnectorRecord{
		UUID:      uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.StatusActive,
		Config:    cfg,
	}
	if r.store != nil {
		if err := r.store.SaveConnector(ctx, rec); err != nil {
			r.provisioner.Rollback(cfg)
			return models.ConnectorQueueConfig{}, fmt.Errorf("persist connector %s: %w", req.ID, err)
		}
	}
	r.put(rec)

	r.logger.Info("connector registered", "connector_id", req.ID, "type", req.Type, "scope", req.Scope)
	return cfg, nil
}

// Lookup returns the config of a registered connector
func (r *Registry) Lookup(id string) (models.ConnectorQueueConfig, error) {
	rec, err := r.Record(id)
	if err != nil {
		return models.ConnectorQueueConfig{}, err
	}
	return rec.Config, nil
}

// Record returns the full registry entry for a connector
func (r *Registry) Record(id string) (models.ConnectorRecord, error) {
	rec, ok := r.get(id)
	if !ok {
		return models.ConnectorRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// List returns every entry ordered by connector identity
func (r *Registry) List() []models.ConnectorRecord {
	r.mu.RLock()
	out := make([]models.ConnectorRecord, 0, len(r.entries))
	for _, rec := range r.entries {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Unregister removes an entry without touching its queues. Use
// Coordinator.UnregisterConnector to drain and delete them.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.remove(ctx, id)
}

// Restore loads persisted entries, replacing any in-memory entry with the
// same identity.
func (r *Registry) Restore(records []models.ConnectorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.entries[rec.Config.ID] = rec
	}
	r.logger.Info("registry restored", "connectors", len(records))
}

// LoadFromStore restores entries from the configured store
func (r *Registry) LoadFromStore(ctx context.Context) ([]models.ConnectorRecord, error) {
	if r.store == nil {
		return nil, nil
	}
	records, err := r.store.ListConnectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}
	r.Restore(records)
	return records, nil
}

// Repair re-declares the queues of an active connector. Entries pending
// cleanup are left alone so a half-deleted connector is not resurrected.
func (r *Registry) Repair(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	rec, ok := r.get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status != models.StatusActive {
		return false, nil
	}
	if err := r.provisioner.Ensure(ctx, rec.Config); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) get(id string) (models.ConnectorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	return rec, ok
}

func (r *Registry) put(rec models.ConnectorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[rec.Config.ID] = rec
}

// remove expects the identity lock to be held
func (r *Registry) remove(ctx context.Context, id string) error {
	if _, ok := r.get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.store != nil {
		if err := r.store.DeleteConnector(ctx, id); err != nil {
			return fmt.Errorf("delete connector %s from store: %w", id, err)
		}
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	r.logger.Info("connector removed from registry", "connector_id", id)
	return nil
}

// markCleanupPending records a deregistration that stopped half way. It
// expects the identity lock to be held.
func (r *Registry) markCleanupPending(ctx context.Context, id string, drained models.DrainReport) error {
	rec, ok := r.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Status = models.StatusCleanupPending
	rec.Drained = drained
	rec.UpdatedAt = r.now()
	r.put(rec)

	if r.store == nil {
		return nil
	}
	// The caller's deadline may be what failed the deregistration
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.store.SaveConnector(ctx, rec); err != nil {
		return fmt.Errorf("persist cleanup state for %s: %w", id, err)
	}
	return nil
}
