package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/store"
)

// Sweeper prunes rollup buckets that have aged out of the retention window.
// It runs on its own slow cadence, independent of sampling: by the time a
// bucket's label falls outside the window no tick can still target it, so
// the sweeper never races in-flight accumulation.
type Sweeper struct {
	cfg *config.Config
	st  *store.Store
}

// NewSweeper wires the retention loop.
func NewSweeper(cfg *config.Config, st *store.Store) *Sweeper {
	return &Sweeper{cfg: cfg, st: st}
}

// Run sweeps once at startup and then on every interval until ctx is
// cancelled. Sweep failures are logged and retried on the next cycle only.
func (w *Sweeper) Run(ctx context.Context) {
	w.sweep()

	ticker := time.NewTicker(w.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopping")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	res, err := w.st.Sweep(w.cfg.RetentionDays)
	if err != nil {
		log.Printf("[sweeper] sweep failed, will retry next cycle: %v", err)
		return
	}
	sweepDeleted.WithLabelValues("hourly").Add(float64(res.HourlyDeleted))
	sweepDeleted.WithLabelValues("daily").Add(float64(res.DailyDeleted))

	if removed, err := w.st.CleanupAlerts(w.cfg.RetentionDays); err != nil {
		log.Printf("[sweeper] alert cleanup failed: %v", err)
	} else if removed > 0 {
		log.Printf("[sweeper] removed %d resolved alert(s)", removed)
	}
}
