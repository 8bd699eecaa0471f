package saga

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reconciler periodically recovers sagas stranded by a process crash and
// retries confirmation for orphaned ones. Run it with an interval much
// shorter than the reservation TTL so confirmed-late reservations are
// promoted before the sweeper can touch anything.
type Reconciler struct {
	orchestrator *Orchestrator
	interval     time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewReconciler(orchestrator *Orchestrator, interval time.Duration) *Reconciler {
	return &Reconciler{
		orchestrator: orchestrator,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()

			recovered, err := r.orchestrator.RecoverStalled(ctx)
			if err != nil {
				slog.Error("stall recovery cycle failed", "error", err)
			} else if recovered > 0 {
				slog.Info("recovered stalled sagas", "count", recovered)
			}

			promoted, err := r.orchestrator.Reconcile(ctx)
			if err != nil {
				slog.Error("reconcile cycle failed", "error", err)
				continue
			}
			if promoted > 0 {
				slog.Info("reconciled orphaned sagas", "promoted", promoted)
			}
		case <-r.stopChan:
			return
		}
	}
}

func (r *Reconciler) Shutdown() {
	close(r.stopChan)
	r.wg.Wait()
}
