package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EirLedger/internal/config"
	"EirLedger/internal/coordinator"
	"EirLedger/internal/core"
	"EirLedger/internal/observability"
	"EirLedger/internal/outbound"
	"EirLedger/internal/persistence"
	"EirLedger/internal/query"
	"EirLedger/internal/server"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: EirLedger starting...")

	cfg, err := config.Load(os.Getenv("EIR_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	level := observability.ParseLogLevel(cfg.LogLevel)

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres (reads) ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Workers * 6)
	db.SetMaxIdleConns(cfg.Workers)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}

	// --- Postgres (COPY writes) ---
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: pgx pool: %v", err)
	}
	defer pool.Close()

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// --- Status fan-out ---
	var notifier coordinator.Notifier
	if cfg.NATSURL != "" {
		nc, js, err := outbound.Connect(cfg.NATSURL, observability.NewLoggerWithLevel("nats", level))
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		if err := outbound.EnsureStatusStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure status stream: %v", err)
		}
		notifier = outbound.NewStatusPublisher(js, observability.NewLoggerWithLevel("publisher", level))
		log.Printf("INFO: publishing run status to stream %s", outbound.StreamName)
	} else {
		log.Println("WARN: EIR_NATS_URL not set, run status is only available by polling")
	}

	// --- Calculation pipeline ---
	reader := query.NewReader(db, query.NewCache(cfg.CacheCapacity), metrics)
	writer := persistence.NewOutputWriter(pool, metrics)
	processor := core.NewProcessor(reader, writer, observability.NewLoggerWithLevel("engine", level), metrics)
	coord := coordinator.New(reader, processor, notifier, coordinator.Options{
		Workers:     cfg.Workers,
		BatchSize:   cfg.BatchSize,
		GracePeriod: cfg.GracePeriod,
	}, observability.NewLoggerWithLevel("coordinator", level), metrics)

	// --- HTTP + gRPC ---
	var srv *server.Server
	healthChecker := observability.NewHealthChecker(func(ready bool) {
		if srv != nil {
			srv.SetServing(ready)
		}
	})
	serverLog := observability.NewLoggerWithLevel("server", level)
	handler, err := server.NewHTTPHandler(coord, healthChecker, serverLog)
	if err != nil {
		log.Fatalf("FATAL: http routes: %v", err)
	}
	srv = server.New(cfg.GRPCAddr, cfg.HTTPAddr, handler, serverLog)

	errChan := make(chan error, 3)

	go func() {
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		errChan <- srv.StartHTTP(ctx)
	}()
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: EirLedger ready (workers=%d, batch_size=%d, http=%s, grpc=%s, metrics=%s)",
		cfg.Workers, cfg.BatchSize, cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: server failed: %v, shutting down...", err)
	}

	healthChecker.SetReady(false)
	if coord.Active() {
		log.Printf("INFO: %s", coord.Cancel())
	}
	cancel()

	log.Println("INFO: EirLedger shutdown complete")
}
