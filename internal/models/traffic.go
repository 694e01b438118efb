package models

import "time"

// Bucket labels are derived from UTC wall-clock time and sort
// lexicographically, so retention cutoffs are plain string comparisons.
const (
	hourLayout = "2006-01-02-15"
	dayLayout  = "2006-01-02"
)

// HourLabel returns the hourly bucket key for t, e.g. "2026-08-31-14".
func HourLabel(t time.Time) string {
	return t.UTC().Format(hourLayout)
}

// DayLabel returns the daily bucket key for t, e.g. "2026-08-31".
func DayLabel(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// TrafficSnapshot is the live row per machine key: the last cumulative
// counters seen and when. It is the sole delta baseline — no in-process
// counter history is kept, so a restart costs exactly one
// baseline-establishing tick.
type TrafficSnapshot struct {
	VMKey        string      `gorm:"primaryKey" json:"vm_key"`
	ConnectionID uint        `gorm:"index" json:"connection_id"`
	Node         string      `json:"node"`
	VMID         uint        `gorm:"column:vmid" json:"vmid"`
	Name         string      `json:"name"`
	Kind         MachineKind `json:"kind"`

	// Cumulative counters as last reported by the platform.
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	Total    uint64 `json:"total"`

	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrafficHourly accumulates per-interval deltas for one machine within one
// hour label. Samples counts every poll that landed in the bucket, idle
// polls included, so "polled but quiet" is distinguishable from "not polled".
type TrafficHourly struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	VMKey        string      `gorm:"uniqueIndex:idx_hourly_bucket;index" json:"vm_key"`
	Hour         string      `gorm:"uniqueIndex:idx_hourly_bucket;index" json:"hour"`
	ConnectionID uint        `gorm:"index" json:"connection_id"`
	Node         string      `json:"node"`
	VMID         uint        `gorm:"column:vmid" json:"vmid"`
	Name         string      `json:"name"`
	Kind         MachineKind `json:"kind"`

	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	Total    uint64 `json:"total"`
	Samples  int64  `json:"samples"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// TrafficDaily is the daily tier, fed independently from the same delta
// stream rather than derived from hourly rows (summing sealed hours would
// drift whenever a bucket is missed).
type TrafficDaily struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	VMKey        string      `gorm:"uniqueIndex:idx_daily_bucket;index" json:"vm_key"`
	Day          string      `gorm:"uniqueIndex:idx_daily_bucket;index" json:"day"`
	ConnectionID uint        `gorm:"index" json:"connection_id"`
	Node         string      `json:"node"`
	VMID         uint        `gorm:"column:vmid" json:"vmid"`
	Name         string      `json:"name"`
	Kind         MachineKind `json:"kind"`

	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	Total    uint64 `json:"total"`
	Samples  int64  `json:"samples"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}
