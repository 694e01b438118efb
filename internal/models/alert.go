package models

import (
	"time"

	"gorm.io/gorm"
)

// AlertLevel grades alert severity.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
	AlertInfo     AlertLevel = "info"
)

// AlertStatus tracks the operator lifecycle of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a persisted operator notification raised by the telemetry engine,
// e.g. a machine exceeding its hourly traffic threshold.
type Alert struct {
	gorm.Model

	Level  AlertLevel  `gorm:"index;not null" json:"level"`
	Type   string      `gorm:"index;not null" json:"type"`
	Status AlertStatus `gorm:"index;default:'active'" json:"status"`

	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`

	// Source identifies what raised the alert: a machine key or node name.
	Source       string `gorm:"index" json:"source"`
	ConnectionID *uint  `gorm:"index" json:"connection_id,omitempty"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
