package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"connector-queue-manager/internal/metrics"
	"connector-queue-manager/internal/models"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 30 * time.Second

// Target is what the scheduled jobs act on. service.QueueService
// implements it.
type Target interface {
	Recover(ctx context.Context) error
	Metrics(ctx context.Context) (models.BrokerMetricsSnapshot, error)
}

// Schedules holds cron specs for the two jobs. An empty spec disables
// that job.
type Schedules struct {
	Health  string
	Metrics string
}

type Scheduler struct {
	c       *cron.Cron
	target  Target
	specs   Schedules
	timeout time.Duration
	logger  *slog.Logger
}

func NewScheduler(target Target, specs Schedules, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		c:       cron.New(),
		target:  target,
		specs:   specs,
		timeout: defaultJobTimeout,
		logger:  logger.With("component", "cron"),
	}
}

// Start registers the jobs and starts the cron runner. Jobs never overlap
// with themselves.
func (s *Scheduler) Start() error {
	if s.target == nil {
		return nil
	}
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{name: "health", spec: s.specs.Health, run: s.runHealth},
		{name: "metrics", spec: s.specs.Metrics, run: s.runMetrics},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(job.run))
		if _, err := s.c.AddJob(job.spec, wrapped); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", job.name, job.spec, err)
		}
		s.logger.Info("scheduled job", "job", job.name, "spec", job.spec)
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

// runHealth reconnects and re-declares topology when the broker is down
func (s *Scheduler) runHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.target.Recover(ctx); err != nil {
		metrics.PollFailuresTotal.WithLabelValues("health").Inc()
		s.logger.Warn("broker recovery failed", "error", err)
	}
}

// runMetrics refreshes the exported queue gauges
func (s *Scheduler) runMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	snap, err := s.target.Metrics(ctx)
	if err != nil {
		s.logger.Warn("metrics poll failed", "error", err)
		return
	}
	s.logger.Debug("metrics poll", "queues", len(snap.Queues))
}
