package store

import (
	"time"

	"github.com/openflux/openflux/internal/models"
	"gorm.io/gorm"
)

// CreateAlert persists a new alert row.
func (s *Store) CreateAlert(a *models.Alert) error {
	return s.db.Create(a).Error
}

// ActiveAlert returns the open (active or acknowledged) alert for a given
// type and source, or (nil, nil) when there is none. Used to avoid raising
// duplicate alerts for the same condition.
func (s *Store) ActiveAlert(alertType, source string) (*models.Alert, error) {
	var a models.Alert
	err := s.db.Where("type = ? AND source = ? AND status != ?",
		alertType, source, models.AlertResolved).First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns alerts, optionally filtered by status, newest first.
func (s *Store) ListAlerts(status models.AlertStatus) ([]models.Alert, error) {
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var alerts []models.Alert
	err := q.Find(&alerts).Error
	return alerts, err
}

// AcknowledgeAlert marks an alert acknowledged by the given operator.
func (s *Store) AcknowledgeAlert(id uint, by string) error {
	now := time.Now()
	return s.db.Model(&models.Alert{}).Where("id = ? AND status = ?", id, models.AlertActive).
		Updates(map[string]any{
			"status":          models.AlertAcknowledged,
			"acknowledged_at": &now,
			"acknowledged_by": by,
		}).Error
}

// ResolveAlert closes an alert.
func (s *Store) ResolveAlert(id uint) error {
	now := time.Now()
	return s.db.Model(&models.Alert{}).Where("id = ?", id).Updates(map[string]any{
		"status":      models.AlertResolved,
		"resolved_at": &now,
	}).Error
}

// CleanupAlerts deletes resolved alerts older than the given number of days
// and returns how many were removed. Runs on the retention sweep cadence.
func (s *Store) CleanupAlerts(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := s.db.Where("status = ? AND updated_at < ?", models.AlertResolved, cutoff).
		Delete(&models.Alert{})
	return res.RowsAffected, res.Error
}
