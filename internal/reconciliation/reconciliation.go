package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
)

// ReconciliationResult contains the results of a reconciliation operation
type ReconciliationResult struct {
	DryRun           bool           `json:"dryRun"`
	CreatedExchanges []string       `json:"createdExchanges"`
	CreatedQueues    []string       `json:"createdQueues"`
	DeletedQueues    []string       `json:"deletedQueues"`
	Drained          map[string]int `json:"drained"` // deleted queue -> messages discarded
	Errors           []string       `json:"errors"`
}

// Summary returns a summary of the reconciliation
func (r *ReconciliationResult) Summary() map[string]int {
	drained := 0
	for _, n := range r.Drained {
		drained += n
	}
	return map[string]int{
		"exchangesCreated": len(r.CreatedExchanges),
		"queuesCreated":    len(r.CreatedQueues),
		"queuesDeleted":    len(r.DeletedQueues),
		"messagesDrained":  drained,
		"errors":           len(r.Errors),
	}
}

// Reconciler compares the registry (expected) with the broker (actual).
// Connector queues without a registry entry are deleted; registered
// connectors with missing queues get them declared again. Queues not named
// like connector queues are never touched.
type Reconciler struct {
	broker      queue.Provider
	registry    *connector.Registry
	coordinator *connector.Coordinator
	exchanges   connector.Exchanges
	logger      *slog.Logger
}

func NewReconciler(broker queue.Provider, registry *connector.Registry, coordinator *connector.Coordinator,
	exchanges connector.Exchanges, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		broker:      broker,
		registry:    registry,
		coordinator: coordinator,
		exchanges:   exchanges,
		logger:      logger.With("component", "reconciliation"),
	}
}

// Reconcile performs full reconciliation. With dryRun set nothing is
// changed and the result lists what would be.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (*ReconciliationResult, error) {
	result := &ReconciliationResult{
		DryRun:           dryRun,
		CreatedExchanges: []string{},
		CreatedQueues:    []string{},
		DeletedQueues:    []string{},
		Drained:          map[string]int{},
		Errors:           []string{},
	}

	actualQueues, err := r.broker.ListQueues(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list queues: %w", err)
	}
	actual := make(map[string]models.QueueStats, len(actualQueues))
	for _, q := range actualQueues {
		actual[q.Name] = q
	}

	r.reconcileExchanges(ctx, dryRun, result)

	records := r.registry.List()
	r.logger.Info("loaded state",
		"registered_connectors", len(records), "broker_queues", len(actualQueues), "dry_run", dryRun)

	// Registered connectors: declare missing queues
	for _, rec := range records {
		if rec.Status != models.StatusActive {
			continue
		}
		var missing []string
		for _, name := range []string{rec.Config.Listen, rec.Config.Push} {
			if _, ok := actual[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if dryRun {
			result.CreatedQueues = append(result.CreatedQueues, missing...)
			r.logger.Info("[DRY RUN] would create queues", "connector_id", rec.Config.ID, "queues", missing)
			continue
		}
		ensured, err := r.registry.Repair(ctx, rec.Config.ID)
		switch {
		case errors.Is(err, connector.ErrNotFound):
			// unregistered since List
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("failed to create queues for connector %s: %v", rec.Config.ID, err))
		case ensured:
			result.CreatedQueues = append(result.CreatedQueues, missing...)
			r.logger.Info("created queues", "connector_id", rec.Config.ID, "queues", missing)
		}
	}

	// Orphans: connector queues nobody owns
	for _, id := range orphans(actual, r.registry) {
		names := ownedQueues(actual, id)
		if dryRun {
			result.DeletedQueues = append(result.DeletedQueues, names...)
			for _, name := range names {
				result.Drained[name] = actual[name].MessageCount
			}
			r.logger.Info("[DRY RUN] would delete orphan queues", "connector_id", id, "queues", names)
			continue
		}
		report, err := r.coordinator.PurgeOrphan(ctx, id)
		switch {
		case errors.Is(err, connector.ErrAlreadyRegistered):
			// registered since List
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete orphan queues of %s: %v", id, err))
		default:
			result.DeletedQueues = append(result.DeletedQueues, names...)
			if _, ok := actual[connector.ListenQueue(id)]; ok {
				result.Drained[connector.ListenQueue(id)] = report.Listen.MessageCount
			}
			if _, ok := actual[connector.PushQueue(id)]; ok {
				result.Drained[connector.PushQueue(id)] = report.Push.MessageCount
			}
		}
	}

	sort.Strings(result.CreatedQueues)
	sort.Strings(result.DeletedQueues)
	r.logger.Info("reconciliation completed", "summary", result.Summary())
	return result, nil
}

func (r *Reconciler) reconcileExchanges(ctx context.Context, dryRun bool, result *ReconciliationResult) {
	actualExchanges, err := r.broker.ListExchanges(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list exchanges: %v", err))
		actualExchanges = []string{} // declare both, it is idempotent
	}
	present := make(map[string]bool, len(actualExchanges))
	for _, name := range actualExchanges {
		present[name] = true
	}

	for _, name := range []string{r.exchanges.Listen, r.exchanges.Push} {
		if present[name] {
			continue
		}
		if dryRun {
			result.CreatedExchanges = append(result.CreatedExchanges, name)
			r.logger.Info("[DRY RUN] would create exchange", "exchange", name)
			continue
		}
		if err := r.broker.DeclareExchange(ctx, name, queue.ExchangeDirect); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to create exchange %s: %v", name, err))
			continue
		}
		result.CreatedExchanges = append(result.CreatedExchanges, name)
		r.logger.Info("created exchange", "exchange", name)
	}
}

// orphans returns the sorted identities that own broker queues but have no
// registry entry
func orphans(actual map[string]models.QueueStats, registry *connector.Registry) []string {
	seen := map[string]bool{}
	var ids []string
	for name := range actual {
		id, _, ok := connector.ParseQueueName(name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := registry.Record(id); err == nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ownedQueues(actual map[string]models.QueueStats, id string) []string {
	var names []string
	for _, name := range []string{connector.ListenQueue(id), connector.PushQueue(id)} {
		if _, ok := actual[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
