// Package store manages the OpenFlux database layer.
// It initializes GORM with SQLite and holds the connection / machine registry
// plus the three-tier traffic rollup tables.
package store

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the GORM handle. All persistence goes through it so tests can
// run against an isolated in-memory database.
type Store struct {
	db *gorm.DB
}

// Open opens the database and runs AutoMigrate.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Connection{},
		&models.Machine{},
		&models.TrafficSnapshot{},
		&models.TrafficHourly{},
		&models.TrafficDaily{},
		&models.Alert{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	log.Printf("[db] opened %s/%s", cfg.DBDriver, cfg.DBPath)
	return &Store{db: db}, nil
}

// ── Connection registry ───────────────────────────────────────────────────────

// CreateConnection persists a new platform connection.
func (s *Store) CreateConnection(conn *models.Connection) error {
	return s.db.Create(conn).Error
}

// ListConnections returns all registered connections.
func (s *Store) ListConnections() ([]models.Connection, error) {
	var conns []models.Connection
	err := s.db.Find(&conns).Error
	return conns, err
}

// GetConnection fetches one connection by ID.
func (s *Store) GetConnection(id uint) (*models.Connection, error) {
	var conn models.Connection
	if err := s.db.First(&conn, id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// MarkConnectionUp records a successful platform round-trip.
func (s *Store) MarkConnectionUp(id uint) error {
	now := time.Now()
	return s.db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]any{
		"status":         models.ConnectionConnected,
		"last_connected": &now,
		"last_error":     "",
	}).Error
}

// MarkConnectionDown records a failed platform round-trip with its cause.
func (s *Store) MarkConnectionDown(id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.Model(&models.Connection{}).Where("id = ?", id).Updates(map[string]any{
		"status":     models.ConnectionError,
		"last_error": msg,
	}).Error
}

// DeleteConnection deregisters a connection and cascades over everything it
// owns: machine inventory, live snapshots, both rollup tiers and alerts.
// This is the only path that removes live snapshots — the retention sweeper
// never touches them.
func (s *Store) DeleteConnection(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_id = ?", id).Delete(&models.Machine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.TrafficSnapshot{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.TrafficHourly{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.TrafficDaily{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&models.Alert{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Connection{}, id).Error
	})
}

// ── Machine inventory ─────────────────────────────────────────────────────────

// UpsertMachine refreshes one machine's inventory row, creating it on first
// sight. Identity is (connection, node, vmid); name/kind/status are mutable.
func (s *Store) UpsertMachine(m *models.Machine) error {
	var existing models.Machine
	err := s.db.Where("connection_id = ? AND node = ? AND vmid = ?",
		m.ConnectionID, m.Node, m.VMID).First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		return s.db.Create(m).Error
	}
	if err != nil {
		return err
	}
	m.ID = existing.ID
	return s.db.Model(&existing).Updates(map[string]any{
		"name":   m.Name,
		"kind":   m.Kind,
		"status": m.Status,
	}).Error
}

// ListMachines returns the machine inventory, optionally scoped to one
// connection (connectionID 0 = all).
func (s *Store) ListMachines(connectionID uint) ([]models.Machine, error) {
	q := s.db.Order("connection_id, node, vmid")
	if connectionID != 0 {
		q = q.Where("connection_id = ?", connectionID)
	}
	var machines []models.Machine
	err := q.Find(&machines).Error
	return machines, err
}
