// newface discovery-service
//
// Talent discovery pipeline for the casting team.
// Exposes a REST API (chi) and a gRPC service for:
//   - startDiscovery(platforms, searchType, terms) scrape, filter, score
//   - discoveryJob(id) / deleteDiscoveryJob(id)
//   - analyze(profile | profiles) standalone scoring
//   - moveCandidate / addNote / candidates / stats pipeline board
//
// Publishes EVENT_JOB_PROGRESS and EVENT_CANDIDATE_MOVED to Redis when
// REDIS_URL is set. A cron sweeper fails jobs that stopped making progress.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"newface/discovery-service/internal/app"
	"newface/discovery-service/internal/config"
	"newface/discovery-service/internal/grpcserver"
	"newface/discovery-service/internal/httpapi"
	"newface/discovery-service/internal/logging"
	"newface/discovery-service/internal/scheduler"
)

const version = "1.0.0"

// jobDrainTimeout bounds how long shutdown waits for background jobs.
const jobDrainTimeout = 30 * time.Second

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[discovery-service] Config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "discovery-service")
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Datastore, Redis, services ───────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── Stale job sweeper ────────────────────────────────────────────────────
	sched := scheduler.New(a.Store, log, cfg.SweepIntervalMinutes, cfg.Tuning.StaleJobAge)
	if err := sched.Start(ctx); err != nil {
		log.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	router := httpapi.NewRouter(httpapi.NewHandler(a.Discovery, a.Pipeline, a.Engine, log))
	router.Get("/health", healthHandler)
	router.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(a.Media.Dir()))))

	// Synchronous discovery jobs take minutes; only the read side is bounded.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(a.Discovery, a.Pipeline, a.Engine))

	go func() {
		log.Info("grpc listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc server error", "err", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "err", err)
	}
	gs.GracefulStop()
	sched.Stop()
	if !a.Discovery.Wait(jobDrainTimeout) {
		log.Warn("background discovery jobs still running at exit")
	}
	log.Info("stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "discovery-service",
		"version": version,
	})
}
