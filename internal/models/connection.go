// Package models defines GORM data models for OpenFlux.
package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ConnectionStatus reflects the last known state of a platform connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
)

// Connection is a registered virtualization platform endpoint (one PVE
// cluster or standalone node). Machines and traffic rows hang off it and are
// removed when the connection is deregistered.
type Connection struct {
	gorm.Model

	Name string `gorm:"uniqueIndex;not null" json:"name"`
	Host string `gorm:"not null" json:"host"`
	Port int    `gorm:"default:8006" json:"port"`

	// API token credentials, e.g. TokenID "root@pam!openflux".
	TokenID     string `json:"token_id"`
	TokenSecret string `json:"-"`

	// InsecureTLS skips certificate verification (self-signed PVE default).
	InsecureTLS bool `json:"insecure_tls"`

	Status        ConnectionStatus `gorm:"default:'disconnected'" json:"status"`
	LastConnected *time.Time       `json:"last_connected,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
}

// MachineKind distinguishes full VMs from containers.
type MachineKind string

const (
	KindVM        MachineKind = "vm"
	KindContainer MachineKind = "container"
)

// Machine is one guest reported by a connection, unique per
// (connection, node, vmid). Its identity survives across polls; the row is
// refreshed every tick and removed with the owning connection.
type Machine struct {
	gorm.Model

	ConnectionID uint   `gorm:"uniqueIndex:idx_machine_identity;index" json:"connection_id"`
	Node         string `gorm:"uniqueIndex:idx_machine_identity" json:"node"`
	VMID         uint   `gorm:"column:vmid;uniqueIndex:idx_machine_identity" json:"vmid"`

	Name   string      `json:"name"`
	Kind   MachineKind `json:"kind"`
	Status string      `json:"status"`
}

// Key renders the stable composite machine identity used as the traffic
// rollup key: "<connection>-<node>-<vmid>".
func (m *Machine) Key() string {
	return MachineKey(m.ConnectionID, m.Node, m.VMID)
}

// MachineKey builds the composite key without a Machine row at hand.
func MachineKey(connectionID uint, node string, vmid uint) string {
	return fmt.Sprintf("%d-%s-%d", connectionID, node, vmid)
}
