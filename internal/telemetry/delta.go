// Package telemetry implements the traffic collection engine: the delta
// derivation from cumulative counters, the sampling loop that polls every
// registered connection, and the retention sweeper.
package telemetry

import "github.com/openflux/openflux/internal/models"

// counterDelta derives the per-interval delta for one cumulative counter.
// A counter that went backwards means the guest restarted, migrated or the
// counter rolled over; the new value then counts from zero rather than
// producing a negative delta.
func counterDelta(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}

// ComputeDelta turns an observation into a DeltaEvent against the previous
// live snapshot for the same machine key. prev == nil means this is the
// first-ever observation: the counters are not yet comparable, so the event
// carries zero deltas and only establishes the baseline.
//
// Each counter is compared independently — an in-counter reset does not
// disturb the out-counter's delta.
func ComputeDelta(prev *models.TrafficSnapshot, obs *models.Observation, countIdle bool) *models.DeltaEvent {
	ev := &models.DeltaEvent{
		VMKey:        obs.VMKey,
		ConnectionID: obs.ConnectionID,
		Node:         obs.Node,
		VMID:         obs.VMID,
		Name:         obs.Name,
		Kind:         obs.Kind,
		CumIn:        obs.BytesIn,
		CumOut:       obs.BytesOut,
		Timestamp:    obs.Timestamp,
	}

	if prev == nil {
		// Baseline tick still counts as a sample so the machine reads as
		// polled immediately after discovery.
		ev.CountSample = true
		return ev
	}

	ev.BytesIn = counterDelta(obs.BytesIn, prev.BytesIn)
	ev.BytesOut = counterDelta(obs.BytesOut, prev.BytesOut)
	ev.Total = ev.BytesIn + ev.BytesOut
	ev.CountSample = countIdle || ev.Total > 0
	return ev
}
