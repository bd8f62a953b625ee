package supervisor

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultReapInterval is how often the reaper sweeps.
const DefaultReapInterval = 60 * time.Second

// Reaper periodically prunes dead registry entries and kills extractor
// children nobody claims. It never propagates an error; a broken sweep
// is logged and the next tick tries again.
type Reaper struct {
	sup      *Supervisor
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewReaper builds a reaper over the registry. interval of 0 means
// DefaultReapInterval.
func NewReaper(sup *Supervisor, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{sup: sup, interval: interval}
}

// Start launches the sweep loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.stopped.Add(1)

	go func(stop chan struct{}) {
		defer r.stopped.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}(r.stop)
}

// Stop halts the loop and waits for the in-flight sweep. Safe to call
// repeatedly, including before Start.
func (r *Reaper) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.stopped.Wait()
}

// Sweep runs one cycle: prune dead pids, then kill unregistered
// extractor children left over from a crashed worker.
func (r *Reaper) Sweep() {
	if pruned := r.sup.PruneDeadPids(); pruned > 0 {
		slog.Debug("pruned dead observer pids", "count", pruned)
	}

	orphans, err := r.sup.FindUnregisteredObservers()
	if err != nil {
		slog.Warn("orphan scan failed", "error", err)
		return
	}
	if len(orphans) == 0 {
		return
	}
	slog.Info("killing orphaned observers", "pids", orphans)
	killPids(orphans)
}
