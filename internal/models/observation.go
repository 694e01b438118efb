package models

import "time"

// Observation is one raw counter reading for a machine. It is ephemeral:
// observations are turned into DeltaEvents and never persisted directly.
type Observation struct {
	VMKey        string
	ConnectionID uint
	Node         string
	VMID         uint
	Name         string
	Kind         MachineKind

	// Cumulative bytes since guest boot, as reported by the platform.
	BytesIn  uint64
	BytesOut uint64

	Timestamp time.Time
}

// DeltaEvent is the non-negative byte count attributed to one sampling
// interval for one machine, derived from two consecutive observations.
type DeltaEvent struct {
	VMKey        string
	ConnectionID uint
	Node         string
	VMID         uint
	Name         string
	Kind         MachineKind

	// Per-interval deltas, never negative.
	BytesIn  uint64
	BytesOut uint64
	Total    uint64

	// Cumulative counters from the observation, stored as the next baseline.
	CumIn  uint64
	CumOut uint64

	// CountSample controls whether this event advances bucket sample counts.
	// Zero-delta events normally do, so idle machines still read as polled.
	CountSample bool

	Timestamp time.Time
}
