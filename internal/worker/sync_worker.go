// Package worker runs the periodic synchronization pass that keeps every
// definition's occurrence forecast current as time moves forward.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scadenze/internal/core"
	"scadenze/internal/services"
)

// Config holds worker tuning.
type Config struct {
	// Interval is how often every definition is re-synchronized.
	Interval time.Duration

	// HorizonMonths is how far ahead each pass forecasts.
	HorizonMonths int

	// Concurrency bounds how many definitions sync in parallel.
	Concurrency int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:      15 * time.Minute,
		HorizonMonths: 12,
		Concurrency:   4,
	}
}

// SyncWorker periodically synchronizes all definitions.
type SyncWorker struct {
	service *services.ObligationService
	repo    services.Repository
	config  Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncWorker(service *services.ObligationService, repo services.Repository, config Config) *SyncWorker {
	return &SyncWorker{
		service: service,
		repo:    repo,
		config:  config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Sync worker started",
		"interval", w.config.Interval,
		"horizon_months", w.config.HorizonMonths,
		"concurrency", w.config.Concurrency)

	return nil
}

// Stop gracefully stops the worker and waits for the current pass to end.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		slog.InfoContext(ctx, "Sync worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run a pass immediately on startup.
	w.processAll(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processAll(ctx)
		}
	}
}

// processAll synchronizes every definition, bounded by Concurrency. One
// failing definition does not stop the others; failures are logged and the
// pass carries on.
func (w *SyncWorker) processAll(ctx context.Context) {
	defs, err := w.repo.Definitions(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list definitions for sync pass", "error", err)
		return
	}

	reference := core.DateOf(time.Now())
	synced := 0
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)

	for _, def := range defs {
		def := def
		g.Go(func() error {
			summary, err := w.service.Synchronize(gctx, def.ID, w.config.HorizonMonths, &reference)
			if err != nil {
				slog.ErrorContext(gctx, "Failed to synchronize definition",
					"definition_id", def.ID, "error", err)
				return nil
			}
			mu.Lock()
			synced++
			mu.Unlock()
			slog.DebugContext(gctx, "Definition synchronized",
				"definition_id", def.ID,
				"created", summary.Created,
				"updated", summary.Updated,
				"deleted", summary.Deleted)
			return nil
		})
	}
	// Errors are swallowed per definition; Wait only joins the goroutines.
	_ = g.Wait()

	slog.InfoContext(ctx, "Sync pass complete",
		"total", len(defs),
		"synced", synced,
		"reference_date", reference.Format("2006-01-02"))
}
