package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/models"
	"github.com/openflux/openflux/internal/platform"
	"github.com/openflux/openflux/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles the API's dependencies.
type Server struct {
	cfg *config.Config
	st  *store.Store
	mgr *platform.Manager
}

// New builds the API server.
func New(cfg *config.Config, st *store.Store, mgr *platform.Manager) *Server {
	return &Server{cfg: cfg, st: st, mgr: mgr}
}

// Register wires all routes onto the engine.
//
//	Public:          POST /api/login, GET /api/health, GET /metrics
//	Protected (JWT): everything else under /api
func (s *Server) Register(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)

	api.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", JWTMiddleware())
	{
		// Platform connections
		auth.GET("/connections", s.handleConnectionList)
		auth.POST("/connections", s.handleConnectionCreate)
		auth.DELETE("/connections/:id", s.handleConnectionDelete)

		// Machine inventory
		auth.GET("/machines", s.handleMachineList)

		// Traffic read surface
		auth.GET("/traffic/current", s.handleTrafficCurrent)
		auth.GET("/traffic/hourly", s.handleTrafficHourly)
		auth.GET("/traffic/daily", s.handleTrafficDaily)

		// Alerts
		auth.GET("/alerts", s.handleAlertList)
		auth.POST("/alerts/:id/ack", s.handleAlertAck)

		// Dashboard host self-stats
		auth.GET("/system", s.handleSystemStats)

		// Node maintenance shell
		auth.GET("/nodes/:host/uptime", s.handleNodeUptime)
		auth.POST("/nodes/:host/exec", s.handleNodeExec)
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if body.Username != s.cfg.AdminUser || body.Password != s.cfg.AdminPass {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := GenerateJWT(body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": 86400, // seconds
		"type":       "Bearer",
	})
}

// handleHealth reports liveness plus per-connection status.
func (s *Server) handleHealth(c *gin.Context) {
	conns, err := s.st.ListConnections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	connected := 0
	for _, conn := range conns {
		if conn.Status == models.ConnectionConnected {
			connected++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().UTC(),
		"connections": gin.H{"total": len(conns), "connected": connected},
	})
}

func (s *Server) handleConnectionList(c *gin.Context) {
	conns, err := s.st.ListConnections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conns})
}

// handleConnectionCreate registers a platform endpoint. The connection is
// pinged before being handed to the collector; an unreachable host is still
// saved (marked with its error) so the operator can fix credentials later.
func (s *Server) handleConnectionCreate(c *gin.Context) {
	var body struct {
		Name        string `json:"name" binding:"required"`
		Host        string `json:"host" binding:"required"`
		Port        int    `json:"port"`
		TokenID     string `json:"token_id" binding:"required"`
		TokenSecret string `json:"token_secret" binding:"required"`
		InsecureTLS bool   `json:"insecure_tls"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Port == 0 {
		body.Port = 8006
	}

	conn := models.Connection{
		Name:        body.Name,
		Host:        body.Host,
		Port:        body.Port,
		TokenID:     body.TokenID,
		TokenSecret: body.TokenSecret,
		InsecureTLS: body.InsecureTLS,
		Status:      models.ConnectionDisconnected,
	}
	if err := s.st.CreateConnection(&conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.mgr.Add(&conn)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := s.mgr.Ping(ctx, conn.ID); err != nil {
		_ = s.st.MarkConnectionDown(conn.ID, err)
		c.JSON(http.StatusCreated, gin.H{"id": conn.ID, "status": models.ConnectionError, "error": err.Error()})
		return
	}
	_ = s.st.MarkConnectionUp(conn.ID)

	c.JSON(http.StatusCreated, gin.H{"id": conn.ID, "status": models.ConnectionConnected})
}

// handleConnectionDelete deregisters a connection. Everything it owns —
// machines, live snapshots, rollup buckets, alerts — goes with it.
func (s *Server) handleConnectionDelete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.st.DeleteConnection(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.mgr.Remove(uint(id))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleMachineList(c *gin.Context) {
	connID := queryUint(c, "connection_id")
	machines, err := s.st.ListMachines(connID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": machines})
}

func (s *Server) handleTrafficCurrent(c *gin.Context) {
	snaps, err := s.st.ListSnapshots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snaps})
}

// bucketFilter reads the shared query params of the rollup endpoints:
// vm_key, connection_id, from, to (labels in the tier's own format).
func bucketFilter(c *gin.Context) store.BucketFilter {
	return store.BucketFilter{
		VMKey:        c.Query("vm_key"),
		ConnectionID: queryUint(c, "connection_id"),
		From:         c.Query("from"),
		To:           c.Query("to"),
	}
}

func (s *Server) handleTrafficHourly(c *gin.Context) {
	rows, err := s.st.ListHourly(bucketFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) handleTrafficDaily(c *gin.Context) {
	rows, err := s.st.ListDaily(bucketFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) handleAlertList(c *gin.Context) {
	alerts, err := s.st.ListAlerts(models.AlertStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (s *Server) handleAlertAck(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.st.AcknowledgeAlert(uint(id), c.GetString("username")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": id})
}

// handleNodeUptime probes a hypervisor node over SSH, for the case where a
// node's API is unresponsive but the host itself may still be up. Uses the
// configured SSH user and key; a password may be supplied per request.
func (s *Server) handleNodeUptime(c *gin.Context) {
	host := c.Param("host")

	cli, err := s.dialNode(host, c.Query("password"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer cli.Close()

	uptime, err := cli.NodeUptime()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": host, "uptime": uptime})
}

// handleNodeExec runs a maintenance command on a hypervisor node over SSH.
//
//	POST /api/nodes/:host/exec
//	Body: { "command": "pvesh get /nodes", "password": "" }
func (s *Server) handleNodeExec(c *gin.Context) {
	var body struct {
		Command  string `json:"command" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command required"})
		return
	}

	cli, err := s.dialNode(c.Param("host"), body.Password)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer cli.Close()

	out, err := cli.Run(body.Command)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "output": out})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out})
}

// dialNode opens an SSH session to a node using the configured user and key;
// a per-request password is an alternative when no key is deployed.
func (s *Server) dialNode(host, password string) (*platform.SSHClient, error) {
	var keyPEM string
	if s.cfg.SSHKeyPath != "" {
		if data, err := os.ReadFile(expandHome(s.cfg.SSHKeyPath)); err == nil {
			keyPEM = string(data)
		}
	}
	return platform.NewSSHClient(host, s.cfg.SSHUser, password, keyPEM)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func queryUint(c *gin.Context, name string) uint {
	v, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
