// Package alerts raises and resolves operator alerts from traffic rollups.
// The rule set is deliberately small: a per-machine hourly byte threshold.
// The generator hangs off the sampler's after-tick hook, so it runs only
// when fresh deltas landed and can never stall the collection loop.
package alerts

import (
	"fmt"
	"log"
	"time"

	"github.com/openflux/openflux/internal/models"
	"github.com/openflux/openflux/internal/store"
)

// Generator evaluates alert rules against the rollup store.
type Generator struct {
	st        *store.Store
	threshold uint64 // hourly bytes per machine; 0 disables the rule
}

const trafficAlertType = "traffic"

// New returns a generator with the configured hourly threshold.
func New(st *store.Store, hourlyThreshold uint64) *Generator {
	return &Generator{st: st, threshold: hourlyThreshold}
}

// CheckTraffic raises a warning for every machine whose current-hour bucket
// exceeds the threshold, and auto-resolves traffic alerts once the offending
// hour has passed or dropped back under it. Errors are returned for logging
// only; callers never abort on them.
func (g *Generator) CheckTraffic() error {
	if g.threshold == 0 {
		return nil
	}

	hour := models.HourLabel(time.Now())
	buckets, err := g.st.ListHourly(store.BucketFilter{From: hour, To: hour})
	if err != nil {
		return fmt.Errorf("reading current hour buckets: %w", err)
	}

	over := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		if b.Total < g.threshold {
			continue
		}
		over[b.VMKey] = true

		existing, err := g.st.ActiveAlert(trafficAlertType, b.VMKey)
		if err != nil {
			return fmt.Errorf("checking existing alert for %s: %w", b.VMKey, err)
		}
		if existing != nil {
			continue
		}

		connID := b.ConnectionID
		if err := g.st.CreateAlert(&models.Alert{
			Level:  models.AlertWarning,
			Type:   trafficAlertType,
			Status: models.AlertActive,
			Title:  fmt.Sprintf("High traffic on %s", b.Name),
			Description: fmt.Sprintf("machine %s moved %d bytes in hour %s (threshold %d)",
				b.VMKey, b.Total, b.Hour, g.threshold),
			Source:       b.VMKey,
			ConnectionID: &connID,
		}); err != nil {
			return fmt.Errorf("creating alert for %s: %w", b.VMKey, err)
		}
		log.Printf("[alerts] raised traffic alert for %s (%d bytes in %s)", b.VMKey, b.Total, b.Hour)
	}

	return g.autoResolve(over)
}

// autoResolve closes traffic alerts whose source is no longer over threshold
// in the current hour.
func (g *Generator) autoResolve(over map[string]bool) error {
	active, err := g.st.ListAlerts(models.AlertActive)
	if err != nil {
		return fmt.Errorf("listing active alerts: %w", err)
	}
	for _, a := range active {
		if a.Type != trafficAlertType || over[a.Source] {
			continue
		}
		if err := g.st.ResolveAlert(a.ID); err != nil {
			return fmt.Errorf("resolving alert %d: %w", a.ID, err)
		}
		log.Printf("[alerts] auto-resolved traffic alert for %s", a.Source)
	}
	return nil
}
