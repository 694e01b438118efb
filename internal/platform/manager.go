package platform

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/openflux/openflux/internal/models"
)

// Manager is the registry of live platform clients, one per stored
// connection. It implements the telemetry engine's counter source.
type Manager struct {
	mu      sync.RWMutex
	clients map[uint]*Client
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{clients: make(map[uint]*Client)}
}

// Load replaces the registry from stored connections, typically at startup.
func (m *Manager) Load(conns []models.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[uint]*Client, len(conns))
	for i := range conns {
		m.clients[conns[i].ID] = NewClient(&conns[i])
	}
	log.Printf("[platform] loaded %d connection(s) from database", len(conns))
}

// Add registers a client for a newly created connection.
func (m *Manager) Add(conn *models.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[conn.ID] = NewClient(conn)
}

// Remove drops a deregistered connection's client.
func (m *Manager) Remove(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
}

// Connections returns the registered connection IDs in stable order.
func (m *Manager) Connections() []uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) client(id uint) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("connection %d not registered", id)
	}
	return c, nil
}

// ListMachines lists the guests of one connection.
func (m *Manager) ListMachines(ctx context.Context, connectionID uint) ([]models.Machine, error) {
	c, err := m.client(connectionID)
	if err != nil {
		return nil, err
	}
	return c.ListMachines(ctx)
}

// Observe fetches one machine's cumulative counters.
func (m *Manager) Observe(ctx context.Context, connectionID uint, machine models.Machine) (*models.Observation, error) {
	c, err := m.client(connectionID)
	if err != nil {
		return nil, err
	}
	return c.Observe(ctx, machine)
}

// Ping round-trips one connection, used to validate new registrations.
func (m *Manager) Ping(ctx context.Context, connectionID uint) error {
	c, err := m.client(connectionID)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}
