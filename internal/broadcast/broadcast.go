// Package broadcast delivers traffic rollup updates to real-time consumers.
// The transport is pluggable; the payload contract is fixed: after any tick
// that produced deltas, consumers receive the current hourly and daily views.
package broadcast

import (
	"log"
	"time"

	"github.com/openflux/openflux/internal/models"
)

// Update is the "traffic-update" payload.
type Update struct {
	Hourly    []models.TrafficHourly `json:"hourly"`
	Daily     []models.TrafficDaily  `json:"daily"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink is a fire-and-forget outlet for updates. Publish must not block the
// sampling loop for long and its errors are logged and dropped by the caller.
type Sink interface {
	Publish(u *Update) error
	Close()
}

// LogSink is the fallback when no transport is configured: it just notes the
// update size so operators can see the loop is alive.
type LogSink struct{}

// NewLogSink returns a sink that only logs.
func NewLogSink() *LogSink { return &LogSink{} }

// Publish logs a one-line summary.
func (l *LogSink) Publish(u *Update) error {
	log.Printf("[broadcast] traffic-update: %d hourly / %d daily rows", len(u.Hourly), len(u.Daily))
	return nil
}

// Close is a no-op.
func (l *LogSink) Close() {}
