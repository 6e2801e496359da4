package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/metrics"
	"github.com/CodingButter/agent-supervisor/pkg/prober"
	"github.com/CodingButter/agent-supervisor/pkg/sampler"
	"github.com/CodingButter/agent-supervisor/pkg/supervisor"
	"github.com/spf13/cobra"
)

// errBadConfig and errCancelled are sentinels run() maps back to the
// exit-code contract; they never escape past rootCmd.Execute as anything
// but these two values, so exitCodeFor can compare by identity.
var (
	errBadConfig = errors.New("bad config")
	errCancelled = errors.New("cancelled")
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the supervisor daemon and its metrics/health HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return errBadConfig
		}
		return runDaemon(cmd.Context())
	},
}

func runDaemon(ctx context.Context) error {
	sup, err := supervisor.New(supervisor.Config{
		MaxAgents:        cfg.MaxAgents,
		ShutdownDeadline: time.Duration(cfg.ShutdownGraceMs) * time.Millisecond,
		DataDir:          cfg.DataDir,
		EventLogPath:     filepath.Join(cfg.LogDir, "events.log"),
		Sampler: sampler.Config{
			Period: time.Duration(cfg.HealthcheckIntervalMs) * time.Millisecond,
		},
		Prober: prober.Config{
			Period:            time.Duration(cfg.HealthcheckIntervalMs) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.MCPHeartbeatMs) * time.Millisecond,
		},
		InterAgentBus: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start supervisor: %v\n", err)
		return errBadConfig
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("event_logger", true, "started")
	metrics.RegisterComponent("checkpoint_store", true, "started")
	metrics.RegisterComponent("process_host", true, "ready")

	collector := metrics.NewCollector(sup, sup.Bus())
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	httpSrv := &http.Server{Addr: cfg.Addr(), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	fmt.Printf("agentsupervisord listening on http://%s (metrics/health/ready/live)\n", cfg.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	cancelled := false
	select {
	case <-sigCh:
		cancelled = true
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "%v\n", err)
	case <-ctx.Done():
		cancelled = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceMs)*time.Millisecond)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	if err := sup.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "supervisor shutdown: %v\n", err)
	}

	if cancelled {
		return errCancelled
	}
	return nil
}
