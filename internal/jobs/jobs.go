// Package jobs runs the recurring background work: handing pending
// shipments to the courier and reconciling courier statuses.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"rougecommerce/backend/internal/domain"
	"rougecommerce/backend/internal/service"
)

type Config struct {
	DispatchInterval time.Duration
	SyncInterval     time.Duration
	BatchLimit       int
}

type Runner struct {
	svc *service.Service
	cfg Config
	wg  sync.WaitGroup
}

func NewRunner(svc *service.Service, cfg Config) *Runner {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Minute
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Runner{svc: svc, cfg: cfg}
}

// Start launches the dispatch and sync loops. Both stop when ctx is
// cancelled; Wait blocks until they have drained.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.dispatchLoop(ctx)
	go r.syncLoop(ctx)
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) dispatchLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[jobs] dispatch loop stopped")
			return
		case <-ticker.C:
			resp, err := r.svc.DispatchPending(ctx, r.cfg.BatchLimit)
			if err != nil {
				log.Printf("[jobs] WARN: dispatch run failed: %v", err)
				continue
			}
			if resp.Batch.Total > 0 {
				log.Printf("[jobs] dispatch batch %s: total=%d sent=%d failed=%d", resp.Batch.ID, resp.Batch.Total, resp.Batch.Sent, resp.Batch.Failed)
			}
		}
	}
}

func (r *Runner) syncLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[jobs] sync loop stopped")
			return
		case <-ticker.C:
			summary, err := r.svc.SyncCourierStatus(ctx, domain.SyncOptions{Limit: r.cfg.BatchLimit})
			if err != nil {
				log.Printf("[jobs] WARN: courier sync failed: %v", err)
				continue
			}
			if summary.Processed > 0 {
				log.Printf("[jobs] courier sync: processed=%d updated=%d failed=%d", summary.Processed, summary.Updated, summary.Failed)
			}
			for _, sampled := range summary.SampledErrors {
				log.Printf("[jobs] courier sync error: %s", sampled)
			}
		}
	}
}
