// Command graphplane-opsd is the control plane's long-running ops
// process: it hosts the periodic background workers (shared-master
// discovery refresh, instance-capacity reporting) and exposes a small
// observability surface of its own (/healthz, /metrics) via go-chi/chi —
// not the caller-facing REST API spec.md §1 places out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robosystems/graphplane/internal/bootstrap"
	"github.com/robosystems/graphplane/internal/config"
	"github.com/robosystems/graphplane/internal/opsworker"
	"github.com/robosystems/graphplane/internal/resilience"
)

func main() {
	addr := flag.String("addr", "", "ops HTTP listen address (defaults to config or :9090)")
	flag.Parse()

	ctx := context.Background()
	cfg := config.FromEnv()

	deps, err := bootstrap.New(ctx, cfg, "graphplane-opsd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.OpsListenAddr
	}

	workers := opsworker.NewGroup()
	workers.AddFunc("shared-master-discovery-refresh", cfg.InstanceCacheTTL, deps.Log, func(ctx context.Context) error {
		return deps.Routing.WarmCaches(ctx)
	})
	workers.AddFunc("instance-capacity-report", 30*time.Second, deps.Log, func(ctx context.Context) error {
		return reportInstanceCapacity(ctx, deps)
	})

	if err := workers.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start workers: %v\n", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Get("/healthz", healthzHandler(deps))
	router.Get("/metrics", promhttp.Handler().ServeHTTP)

	server := &http.Server{Addr: listenAddr, Handler: router}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			deps.Log.WithError(err).Error("ops server stopped unexpectedly")
		}
	}()
	deps.Log.WithFields(map[string]interface{}{"addr": listenAddr}).Info("graphplane-opsd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workers.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		deps.Log.WithError(err).Error("ops server shutdown error")
	}
}

func reportInstanceCapacity(ctx context.Context, deps *bootstrap.Deps) error {
	tiers, err := deps.Tiers.AvailableTiers(true)
	if err != nil {
		return err
	}

	atCapacity := 0
	for _, t := range tiers {
		instances, err := deps.Registry.ListInstancesByTier(ctx, string(t.TierName))
		if err != nil {
			deps.Log.WithError(err).WithFields(map[string]interface{}{"tier": t.TierName}).Warn("failed to list instances for tier")
			continue
		}

		var totalDatabases, totalCapacity int
		for _, inst := range instances {
			if inst.ResidualCapacity() <= 0 {
				atCapacity++
			}
			totalDatabases += inst.DatabaseCount
			totalCapacity += inst.MaxDatabases
		}

		utilization := 0.0
		if totalCapacity > 0 {
			utilization = float64(totalDatabases) / float64(totalCapacity) * 100
		}
		deps.Metrics.SetTierUtilization(string(t.TierName), utilization)
		deps.Metrics.SetTierTotalDatabases(string(t.TierName), totalDatabases)
	}
	deps.Metrics.SetInstancesAtCapacity(atCapacity)
	return nil
}

func healthzHandler(deps *bootstrap.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Routing.Stats()
		breakers := deps.Routing.BreakerStates()
		openBreakers := 0
		for _, state := range breakers {
			if state == resilience.StateOpen {
				openBreakers++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","routing_pools":%d,"open_circuit_breakers":%d}`, len(stats), openBreakers)
	}
}
