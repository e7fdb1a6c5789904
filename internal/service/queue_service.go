package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connector-queue-manager/internal/bootstrap"
	"connector-queue-manager/internal/brokerstats"
	"connector-queue-manager/internal/connector"
	"connector-queue-manager/internal/events"
	"connector-queue-manager/internal/metrics"
	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"
	"connector-queue-manager/internal/reconciliation"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout = 10 * time.Second

	headerConnectorType  = "x-connector-type"
	headerConnectorScope = "x-connector-scope"
)

// Options wires the optional collaborators of a QueueService
type Options struct {
	Exchanges      connector.Exchanges
	Store          connector.Store
	Events         events.Publisher
	Timeout        time.Duration
	ConnectRetries int
	Logger         *slog.Logger
}

// QueueService is the entry point for everything that manages connector
// queues. Every broker call it makes is bounded by the configured timeout.
type QueueService struct {
	provider    queue.Provider
	provisioner *connector.Provisioner
	registry    *connector.Registry
	coordinator *connector.Coordinator
	stats       *brokerstats.Aggregator
	reconciler  *reconciliation.Reconciler
	events      events.Publisher
	timeout     time.Duration
	retries     int
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

func NewQueueService(p queue.Provider, opts Options) *QueueService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}

	provisioner := connector.NewProvisioner(p, opts.Exchanges, logger)
	registry := connector.NewRegistry(provisioner, opts.Store, logger)
	coordinator := connector.NewCoordinator(registry, p, logger)

	return &QueueService{
		provider:    p,
		provisioner: provisioner,
		registry:    registry,
		coordinator: coordinator,
		stats:       brokerstats.NewAggregator(p, logger),
		reconciler:  reconciliation.NewReconciler(p, registry, coordinator, opts.Exchanges, logger),
		events:      opts.Events,
		timeout:     opts.Timeout,
		retries:     opts.ConnectRetries,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:      logger.With("component", "service"),
	}
}

// callContext bounds a single broker interaction
func (s *QueueService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Connect dials the broker, retrying unavailability with exponential
// backoff up to the configured number of retries.
func (s *QueueService) Connect(ctx context.Context) error {
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retries)), ctx)
	err := backoff.RetryNotify(func() error {
		cctx, cancel := s.callContext(ctx)
		defer cancel()
		err := s.provider.Connect(cctx)
		if err != nil && !errors.Is(err, queue.ErrBrokerUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.logger.Warn("broker connect failed, retrying", "error", err, "retry_in", wait)
	})
	metrics.SetBrokerUp(err == nil)
	if err != nil {
		return err
	}
	s.logger.Info("connected to broker", "uri", redact(s.provider.Connection()))
	return nil
}

func (s *QueueService) Disconnect() error {
	s.events.Close()
	metrics.SetBrokerUp(false)
	return s.provider.Close()
}

func (s *QueueService) Health() queue.HealthStatus {
	hs := s.provider.Health()
	metrics.SetBrokerUp(hs.OK)
	return hs
}

// Bootstrap declares the shared exchanges, restores the registry from the
// store, and re-declares the queues of restored connectors.
func (s *QueueService) Bootstrap(ctx context.Context) (*bootstrap.Result, error) {
	result, err := bootstrap.Run(ctx, s.provisioner, s.registry, s.logger)
	metrics.RegisteredConnectors.Set(float64(s.registry.Len()))
	return result, err
}

// Recover reconnects an unhealthy broker and re-declares everything the
// registry knows about. A healthy broker is left alone.
func (s *QueueService) Recover(ctx context.Context) error {
	if hs := s.Health(); hs.OK {
		return nil
	}
	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if _, err := bootstrap.Redeclare(ctx, s.provisioner, s.registry, s.logger); err != nil {
		return fmt.Errorf("redeclare: %w", err)
	}
	s.logger.Info("recovery completed", "at", time.Now().Format(time.RFC3339))
	return nil
}

// RegisterConnectorQueues provisions the listen and push queues of a new
// connector and returns its queue config.
func (s *QueueService) RegisterConnectorQueues(ctx context.Context, id, name, connectorType, scope string) (models.ConnectorQueueConfig, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()

	cfg, err := s.registry.Register(cctx, connector.Request{ID: id, Name: name, Type: connectorType, Scope: scope})
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(metrics.StatusFailure).Inc()
		return models.ConnectorQueueConfig{}, err
	}
	metrics.RegistrationsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	metrics.RegisteredConnectors.Set(float64(s.registry.Len()))
	s.emit(ctx, events.NewEvent(events.ConnectorRegistered, cfg))
	return cfg, nil
}

// UnregisterConnector deletes both queues of a connector and reports how
// many messages each held.
func (s *QueueService) UnregisterConnector(ctx context.Context, id string) (models.DrainReport, error) {
	cfg, lookupErr := s.registry.Lookup(id)
	if lookupErr != nil {
		cfg = models.ConnectorQueueConfig{ID: id}
	}

	cctx, cancel := s.callContext(ctx)
	defer cancel()

	report, err := s.coordinator.UnregisterConnector(cctx, id)
	var partial *connector.PartialDeregistrationError
	switch {
	case err == nil:
		metrics.DeregistrationsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
		metrics.ObserveDrain(report)
		metrics.RegisteredConnectors.Set(float64(s.registry.Len()))
		ev := events.NewEvent(events.ConnectorUnregistered, cfg)
		ev.Drained = &report
		s.emit(ctx, ev)
	case errors.As(err, &partial):
		metrics.DeregistrationsTotal.WithLabelValues(metrics.StatusPartial).Inc()
		ev := events.NewEvent(events.ConnectorCleanupPending, cfg)
		ev.Drained = &report
		ev.Error = err.Error()
		s.emit(ctx, ev)
	default:
		metrics.DeregistrationsTotal.WithLabelValues(metrics.StatusFailure).Inc()
	}
	return report, err
}

// PushToConnector publishes payload as JSON on the connector's listen queue
func (s *QueueService) PushToConnector(ctx context.Context, id string, payload interface{}) error {
	rec, err := s.registry.Record(id)
	if err != nil || rec.Status != models.StatusActive {
		return fmt.Errorf("%w: %s", connector.ErrUnknownConnector, id)
	}
	cfg := rec.Config

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", id, err)
	}

	var headers map[string]interface{}
	if cfg.Routing.Type != "" || cfg.Routing.Scope != "" {
		headers = map[string]interface{}{
			headerConnectorType:  cfg.Routing.Type,
			headerConnectorScope: cfg.Routing.Scope,
		}
	}

	cctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.provider.Publish(cctx, cfg.ListenExchange, cfg.ListenRouting, body, headers); err != nil {
		return fmt.Errorf("push to connector %s: %w", id, err)
	}
	metrics.PushedMessagesTotal.Inc()
	return nil
}

func (s *QueueService) Lookup(id string) (models.ConnectorQueueConfig, error) {
	return s.registry.Lookup(id)
}

func (s *QueueService) Record(id string) (models.ConnectorRecord, error) {
	return s.registry.Record(id)
}

func (s *QueueService) ListConnectors() []models.ConnectorRecord {
	return s.registry.List()
}

// Metrics returns a fresh snapshot of broker state. Nothing is cached.
func (s *QueueService) Metrics(ctx context.Context) (models.BrokerMetricsSnapshot, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()

	snap, err := s.stats.Snapshot(cctx)
	if err != nil {
		metrics.PollFailuresTotal.WithLabelValues("snapshot").Inc()
		return models.BrokerMetricsSnapshot{}, err
	}
	metrics.ObserveSnapshot(snap)
	return snap, nil
}

func (s *QueueService) BrokerVersion(ctx context.Context) (string, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.stats.BrokerVersion(cctx)
}

// Reconcile repairs drift between the registry and the broker
func (s *QueueService) Reconcile(ctx context.Context, dryRun bool) (*reconciliation.ReconciliationResult, error) {
	cctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.reconciler.Reconcile(cctx, dryRun)
}

// emit publishes an event without failing the operation that produced it
func (s *QueueService) emit(ctx context.Context, ev events.Event) {
	cctx, cancel := s.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.events.Publish(cctx, ev); err != nil {
		s.logger.Warn("could not publish event", "type", ev.Type, "connector_id", ev.ConnectorID, "error", err)
	}
}

func redact(c models.ConnectionInfo) string {
	return fmt.Sprintf("%s:%d%s", c.Host, c.Port, c.VHost)
}
