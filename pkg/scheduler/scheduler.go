// Package scheduler runs the agent's periodic background jobs.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/instance"
	"github.com/OmniCloudOrg/OmniAgent/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler drives container status sync and metrics collection
type Scheduler struct {
	manager    *instance.Manager
	collector  *metrics.Collector
	cron       *cron.Cron
	syncing    atomic.Bool // Guards against overlapping status sync runs
	collecting atomic.Bool // Guards against overlapping metrics passes
}

// New creates a new scheduler
func New(manager *instance.Manager, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		manager:   manager,
		collector: collector,
		cron:      cron.New(cron.WithSeconds()),
	}
}

// Start begins the background jobs
func (s *Scheduler) Start() error {
	log.Info().Msg("Starting scheduler")

	// Container status sync (every 10 seconds)
	if _, err := s.cron.AddFunc("@every 10s", s.syncContainerStatus); err != nil {
		return err
	}

	// Metrics collection (every 10 seconds)
	if _, err := s.cron.AddFunc("@every 10s", s.collectMetrics); err != nil {
		return err
	}

	s.cron.Start()

	// Do initial passes without waiting for the first tick
	go s.syncContainerStatus()
	go s.collectMetrics()

	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Scheduler stopped")
}

// syncContainerStatus reconciles stored instance statuses with the runtime
func (s *Scheduler) syncContainerStatus() {
	// Guard: skip if already running
	if !s.syncing.CompareAndSwap(false, true) {
		log.Debug().Msg("Status sync already in progress, skipping")
		return
	}
	defer s.syncing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.manager.SyncAllStatuses(ctx)
}

// collectMetrics takes one metrics pass over running instances
func (s *Scheduler) collectMetrics() {
	// Guard: skip if already running
	if !s.collecting.CompareAndSwap(false, true) {
		log.Debug().Msg("Metrics collection already in progress, skipping")
		return
	}
	defer s.collecting.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.collector.CollectAll(ctx)
}
