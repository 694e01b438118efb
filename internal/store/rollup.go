package store

import (
	"fmt"
	"log"
	"time"

	"github.com/openflux/openflux/internal/models"
	"gorm.io/gorm"
)

// ApplyDelta folds one DeltaEvent into all three traffic tiers as a single
// transaction: the live snapshot is replaced, and the hourly and daily
// buckets keyed by the event timestamp each absorb the delta. Either all
// three writes commit or none do, so a crash mid-event can never leave a
// half-updated bucket behind.
func (s *Store) ApplyDelta(ev *models.DeltaEvent) error {
	hour := models.HourLabel(ev.Timestamp)
	day := models.DayLabel(ev.Timestamp)

	return s.db.Transaction(func(tx *gorm.DB) error {
		snap := models.TrafficSnapshot{
			VMKey:        ev.VMKey,
			ConnectionID: ev.ConnectionID,
			Node:         ev.Node,
			VMID:         ev.VMID,
			Name:         ev.Name,
			Kind:         ev.Kind,
			BytesIn:      ev.CumIn,
			BytesOut:     ev.CumOut,
			Total:        ev.CumIn + ev.CumOut,
			Timestamp:    ev.Timestamp,
		}
		if err := tx.Save(&snap).Error; err != nil {
			return fmt.Errorf("snapshot upsert: %w", err)
		}

		if err := accumulateHourly(tx, ev, hour); err != nil {
			return fmt.Errorf("hourly bucket %s: %w", hour, err)
		}
		if err := accumulateDaily(tx, ev, day); err != nil {
			return fmt.Errorf("daily bucket %s: %w", day, err)
		}
		return nil
	})
}

func sampleIncrement(ev *models.DeltaEvent) int64 {
	if ev.CountSample {
		return 1
	}
	return 0
}

func accumulateHourly(tx *gorm.DB, ev *models.DeltaEvent, hour string) error {
	var bucket models.TrafficHourly
	err := tx.Where("vm_key = ? AND hour = ?", ev.VMKey, hour).First(&bucket).Error

	if err == gorm.ErrRecordNotFound {
		return tx.Create(&models.TrafficHourly{
			VMKey:        ev.VMKey,
			Hour:         hour,
			ConnectionID: ev.ConnectionID,
			Node:         ev.Node,
			VMID:         ev.VMID,
			Name:         ev.Name,
			Kind:         ev.Kind,
			BytesIn:      ev.BytesIn,
			BytesOut:     ev.BytesOut,
			Total:        ev.Total,
			Samples:      1,
			StartTime:    ev.Timestamp,
			LastUpdate:   ev.Timestamp,
		}).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&bucket).Updates(map[string]any{
		"bytes_in":    gorm.Expr("bytes_in + ?", ev.BytesIn),
		"bytes_out":   gorm.Expr("bytes_out + ?", ev.BytesOut),
		"total":       gorm.Expr("total + ?", ev.Total),
		"samples":     gorm.Expr("samples + ?", sampleIncrement(ev)),
		"name":        ev.Name,
		"last_update": ev.Timestamp,
	}).Error
}

func accumulateDaily(tx *gorm.DB, ev *models.DeltaEvent, day string) error {
	var bucket models.TrafficDaily
	err := tx.Where("vm_key = ? AND day = ?", ev.VMKey, day).First(&bucket).Error

	if err == gorm.ErrRecordNotFound {
		return tx.Create(&models.TrafficDaily{
			VMKey:        ev.VMKey,
			Day:          day,
			ConnectionID: ev.ConnectionID,
			Node:         ev.Node,
			VMID:         ev.VMID,
			Name:         ev.Name,
			Kind:         ev.Kind,
			BytesIn:      ev.BytesIn,
			BytesOut:     ev.BytesOut,
			Total:        ev.Total,
			Samples:      1,
			StartTime:    ev.Timestamp,
			LastUpdate:   ev.Timestamp,
		}).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&bucket).Updates(map[string]any{
		"bytes_in":    gorm.Expr("bytes_in + ?", ev.BytesIn),
		"bytes_out":   gorm.Expr("bytes_out + ?", ev.BytesOut),
		"total":       gorm.Expr("total + ?", ev.Total),
		"samples":     gorm.Expr("samples + ?", sampleIncrement(ev)),
		"name":        ev.Name,
		"last_update": ev.Timestamp,
	}).Error
}

// ── Read surface ──────────────────────────────────────────────────────────────

// Snapshot returns the live snapshot for one machine key, or (nil, nil)
// before its first observation.
func (s *Store) Snapshot(vmKey string) (*models.TrafficSnapshot, error) {
	var snap models.TrafficSnapshot
	err := s.db.Where("vm_key = ?", vmKey).First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshots returns all live snapshots, busiest machines first.
func (s *Store) ListSnapshots() ([]models.TrafficSnapshot, error) {
	var snaps []models.TrafficSnapshot
	err := s.db.Order("total desc").Find(&snaps).Error
	return snaps, err
}

// BucketFilter narrows rollup queries. Zero values mean "no constraint";
// From/To are inclusive bucket labels in the tier's own format.
type BucketFilter struct {
	VMKey        string
	ConnectionID uint
	From         string
	To           string
}

func (f BucketFilter) apply(q *gorm.DB, labelCol string) *gorm.DB {
	if f.VMKey != "" {
		q = q.Where("vm_key = ?", f.VMKey)
	}
	if f.ConnectionID != 0 {
		q = q.Where("connection_id = ?", f.ConnectionID)
	}
	if f.From != "" {
		q = q.Where(labelCol+" >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where(labelCol+" <= ?", f.To)
	}
	return q
}

// ListHourly returns hourly buckets matching the filter, newest label first.
func (s *Store) ListHourly(f BucketFilter) ([]models.TrafficHourly, error) {
	var rows []models.TrafficHourly
	err := f.apply(s.db, "hour").Order("hour desc, total desc").Find(&rows).Error
	return rows, err
}

// ListDaily returns daily buckets matching the filter, newest label first.
func (s *Store) ListDaily(f BucketFilter) ([]models.TrafficDaily, error) {
	var rows []models.TrafficDaily
	err := f.apply(s.db, "day").Order("day desc, total desc").Find(&rows).Error
	return rows, err
}

// ── Retention ─────────────────────────────────────────────────────────────────

// SweepResult reports how many rows each tier lost to a retention sweep.
type SweepResult struct {
	HourlyDeleted int64 `json:"hourly_deleted"`
	DailyDeleted  int64 `json:"daily_deleted"`
}

// Sweep deletes hourly and daily buckets whose label is older than
// retentionDays before now. Labels are ISO-ordered, so the cutoff is a plain
// string comparison; live snapshots are never touched here.
func (s *Store) Sweep(retentionDays int) (SweepResult, error) {
	cutoffDay := models.DayLabel(time.Now().UTC().AddDate(0, 0, -retentionDays))
	return s.SweepBefore(cutoffDay)
}

// SweepBefore deletes buckets older than the given day label. Split out from
// Sweep so tests can pin the cutoff.
func (s *Store) SweepBefore(cutoffDay string) (SweepResult, error) {
	var res SweepResult

	hourly := s.db.Where("hour < ?", cutoffDay+"-00").Delete(&models.TrafficHourly{})
	if hourly.Error != nil {
		return res, fmt.Errorf("sweeping hourly: %w", hourly.Error)
	}
	res.HourlyDeleted = hourly.RowsAffected

	daily := s.db.Where("day < ?", cutoffDay).Delete(&models.TrafficDaily{})
	if daily.Error != nil {
		return res, fmt.Errorf("sweeping daily: %w", daily.Error)
	}
	res.DailyDeleted = daily.RowsAffected

	if res.HourlyDeleted > 0 || res.DailyDeleted > 0 {
		log.Printf("[db] retention sweep removed %d hourly / %d daily rows (cutoff %s)",
			res.HourlyDeleted, res.DailyDeleted, cutoffDay)
	}
	return res, nil
}
