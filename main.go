// OpenFlux — virtualization fleet dashboard & network traffic telemetry engine.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openflux/openflux/internal/alerts"
	"github.com/openflux/openflux/internal/broadcast"
	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/platform"
	"github.com/openflux/openflux/internal/server"
	"github.com/openflux/openflux/internal/store"
	"github.com/openflux/openflux/internal/telemetry"
	"github.com/spf13/cobra"
)

const asciiLogo = `
  ██████╗ ██████╗ ███████╗███╗   ██╗███████╗██╗     ██╗   ██╗██╗  ██╗
 ██╔═══██╗██╔══██╗██╔════╝████╗  ██║██╔════╝██║     ██║   ██║╚██╗██╔╝
 ██║   ██║██████╔╝█████╗  ██╔██╗ ██║█████╗  ██║     ██║   ██║ ╚███╔╝
 ██║   ██║██╔═══╝ ██╔══╝  ██║╚██╗██║██╔══╝  ██║     ██║   ██║ ██╔██╗
 ╚██████╔╝██║     ███████╗██║ ╚████║██║     ███████╗╚██████╔╝██╔╝ ██╗
  ╚═════╝ ╚═╝     ╚══════╝╚═╝  ╚═══╝╚═╝     ╚══════╝ ╚═════╝ ╚═╝  ╚═╝
`

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Print(asciiLogo + "\n")
	fmt.Printf("  ► OpenFlux %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "openflux",
		Short: "OpenFlux — virtualization fleet dashboard & traffic telemetry",
		Long: `OpenFlux is a single-binary backend for Proxmox-style virtualization fleets:
it polls every registered cluster for per-machine network counters, rolls the
deltas into hourly and daily tiers, and serves the results over a REST API
plus an optional NATS real-time feed.`,
		SilenceUsage: true,
	}

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the OpenFlux server (API + traffic collector + sweeper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}

			// Platform connections live in the database; load them into the
			// client registry before the collector starts.
			conns, err := st.ListConnections()
			if err != nil {
				return fmt.Errorf("loading connections: %w", err)
			}
			mgr := platform.NewManager()
			mgr.Load(conns)

			var sink broadcast.Sink
			if cfg.NATSURL != "" {
				sink, err = broadcast.NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
				if err != nil {
					return fmt.Errorf("connecting broadcast sink: %w", err)
				}
			} else {
				sink = broadcast.NewLogSink()
			}
			defer sink.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gen := alerts.New(st, cfg.AlertHourlyBytes)
			sampler := telemetry.NewSampler(cfg, mgr, st, sink)
			sampler.AfterTick = func() {
				if err := gen.CheckTraffic(); err != nil {
					log.Printf("[alerts] check failed: %v", err)
				}
			}

			// Readiness gate: the collector never ticks against a store that
			// failed to come up.
			if err := sampler.Init(ctx); err != nil {
				return fmt.Errorf("initializing sampler: %w", err)
			}

			go func() {
				if err := sampler.Run(ctx); err != nil && err != context.Canceled {
					log.Printf("[sampler] exited: %v", err)
				}
			}()
			go telemetry.NewSweeper(cfg, st).Run(ctx)

			server.SetJWTSecret(cfg.JWTSecret)

			gin.SetMode(gin.ReleaseMode)
			engine := gin.New()
			engine.Use(gin.Recovery(), corsMiddleware)
			server.New(cfg, st, mgr).Register(engine)

			addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
			fmt.Printf("  ✓ API + dashboard      → http://%s\n", addr)
			fmt.Printf("  ✓ Poll interval        → %s\n", cfg.PollInterval())
			fmt.Printf("  ✓ Retention            → %d days (sweep every %s)\n", cfg.RetentionDays, cfg.SweepInterval())
			fmt.Printf("  ✓ Default login        → %s / %s\n\n", cfg.AdminUser, cfg.AdminPass)

			srv := &http.Server{Addr: addr, Handler: engine}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt) // os.Interrupt = SIGINT; works on all platforms

			select {
			case err := <-errCh:
				return err
			case <-quit:
				fmt.Println("\n  → Shutting down gracefully…")
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
				return nil
			}
		},
	}

	// ── sweep subcommand ──────────────────────────────────────────────────────
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a one-shot retention sweep against the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SWEEP")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				cfg.RetentionDays = days
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}

			res, err := st.Sweep(cfg.RetentionDays)
			if err != nil {
				return fmt.Errorf("sweeping: %w", err)
			}
			fmt.Printf("  ✓ Removed %d hourly and %d daily rows older than %d days\n",
				res.HourlyDeleted, res.DailyDeleted, cfg.RetentionDays)
			return nil
		},
	}
	sweepCmd.Flags().Int("days", 0, "Retention window in days (overrides config)")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print OpenFlux version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("OpenFlux %s\n", version)
		},
	}

	root.AddCommand(serverCmd, sweepCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// corsMiddleware allows the dashboard frontend to call the API from another
// origin during development.
func corsMiddleware(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}
	c.Next()
}
