// Package platform talks to Proxmox-compatible virtualization APIs.
// It provides the counter source for the telemetry engine: per-machine
// cumulative network byte counters plus machine identity and state.
package platform

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openflux/openflux/internal/models"
)

// Client is an authenticated handle to one platform endpoint. API-token auth
// only; no ticket/session handling.
type Client struct {
	connID  uint
	baseURL string
	token   string // "PVEAPIToken=<tokenid>=<secret>"
	http    *http.Client
}

// NewClient builds a client from a stored connection.
func NewClient(conn *models.Connection) *Client {
	transport := &http.Transport{}
	if conn.InsecureTLS {
		// PVE ships with a self-signed cert; operators opt in explicitly.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		connID:  conn.ID,
		baseURL: fmt.Sprintf("https://%s:%d/api2/json", conn.Host, conn.Port),
		token:   fmt.Sprintf("PVEAPIToken=%s=%s", conn.TokenID, conn.TokenSecret),
		http:    &http.Client{Timeout: 15 * time.Second, Transport: transport},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("platform rejected API token (401)")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// clusterResource is one row of GET /cluster/resources?type=vm.
type clusterResource struct {
	VMID   uint   `json:"vmid"`
	Node   string `json:"node"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "qemu" or "lxc"
	Status string `json:"status"`
}

// ListMachines returns the current guest inventory across all nodes of the
// connection. A failure here is a connection-level failure: the caller skips
// the whole connection for the tick.
func (c *Client) ListMachines(ctx context.Context) ([]models.Machine, error) {
	var payload struct {
		Data []clusterResource `json:"data"`
	}
	if err := c.getJSON(ctx, "/cluster/resources?type=vm", &payload); err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	machines := make([]models.Machine, 0, len(payload.Data))
	for _, r := range payload.Data {
		machines = append(machines, models.Machine{
			ConnectionID: c.connID,
			Node:         r.Node,
			VMID:         r.VMID,
			Name:         r.Name,
			Kind:         kindFromType(r.Type),
			Status:       r.Status,
		})
	}
	return machines, nil
}

// guestStatus is GET /nodes/{node}/{qemu|lxc}/{vmid}/status/current, reduced
// to the fields the telemetry engine cares about.
type guestStatus struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	NetIn  uint64 `json:"netin"`  // cumulative bytes received since boot
	NetOut uint64 `json:"netout"` // cumulative bytes sent since boot
}

// Observe fetches one machine's current cumulative counters. A failure here
// skips only this machine for the tick.
func (c *Client) Observe(ctx context.Context, m models.Machine) (*models.Observation, error) {
	path := fmt.Sprintf("/nodes/%s/%s/%d/status/current", m.Node, apiType(m.Kind), m.VMID)

	var payload struct {
		Data guestStatus `json:"data"`
	}
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("fetching counters for %s: %w", m.Key(), err)
	}

	name := payload.Data.Name
	if name == "" {
		name = m.Name
	}
	return &models.Observation{
		VMKey:        m.Key(),
		ConnectionID: c.connID,
		Node:         m.Node,
		VMID:         m.VMID,
		Name:         name,
		Kind:         m.Kind,
		BytesIn:      payload.Data.NetIn,
		BytesOut:     payload.Data.NetOut,
		Timestamp:    time.Now(),
	}, nil
}

// Ping does a cheap authenticated round-trip, used when a connection is added.
func (c *Client) Ping(ctx context.Context) error {
	var payload struct {
		Data any `json:"data"`
	}
	return c.getJSON(ctx, "/version", &payload)
}

func kindFromType(t string) models.MachineKind {
	if t == "lxc" {
		return models.KindContainer
	}
	return models.KindVM
}

func apiType(k models.MachineKind) string {
	if k == models.KindContainer {
		return "lxc"
	}
	return "qemu"
}
