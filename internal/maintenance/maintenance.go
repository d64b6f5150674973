// Package maintenance runs periodic housekeeping: rebuilding keyword
// indexes flagged dirty by failed queries, and flushing the project
// registry.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/store"
)

// Registry is the subset of the project registry maintenance needs.
type Registry interface {
	List() []models.Project
	Flush() error
}

// Stores leases project stores. *cache.Manager implements it.
type Stores interface {
	Store(p models.Project) (*cache.Lease[*store.DB], error)
}

// Report summarizes one maintenance pass.
type Report struct {
	Checked int
	Rebuilt int
	Failed  int
}

// Runner owns the cron scheduler.
type Runner struct {
	registry Registry
	stores   Stores
	logger   *slog.Logger

	cron *cron.Cron
	// running serializes passes so a slow pass is never overlapped.
	running sync.Mutex
}

func New(registry Registry, stores Stores, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		stores:   stores,
		logger:   logger.With("component", "maintenance"),
	}
}

// Start schedules passes using a standard cron spec or a descriptor such as
// "@every 30m". An empty schedule disables the scheduler.
func (r *Runner) Start(schedule string) error {
	if schedule == "" {
		r.logger.Info("maintenance disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.logger.Warn("maintenance pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("maintenance scheduled", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running pass.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// RunOnce rebuilds every dirty keyword index and flushes the registry.
// Per-project failures are counted and logged; only a registry flush
// failure is returned.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	r.running.Lock()
	defer r.running.Unlock()

	var rep Report
	for _, p := range r.registry.List() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++

		rebuilt, err := r.rebuildIfDirty(p)
		if err != nil {
			rep.Failed++
			r.logger.Warn("keyword index rebuild failed", "project_id", p.ID, "error", err)
			continue
		}
		if rebuilt {
			rep.Rebuilt++
			r.logger.Info("keyword index rebuilt", "project_id", p.ID)
		}
	}

	if err := r.registry.Flush(); err != nil {
		return rep, fmt.Errorf("flush registry: %w", err)
	}
	r.logger.Debug("maintenance pass complete", "checked", rep.Checked, "rebuilt", rep.Rebuilt, "failed", rep.Failed)
	return rep, nil
}

func (r *Runner) rebuildIfDirty(p models.Project) (bool, error) {
	lease, err := r.stores.Store(p)
	if err != nil {
		return false, err
	}
	defer lease.Release()

	dirty, err := lease.Value.KeywordIndexDirty()
	if err != nil || !dirty {
		return false, err
	}
	if err := lease.Value.RebuildKeywordIndex(); err != nil {
		return false, err
	}
	return true, nil
}
