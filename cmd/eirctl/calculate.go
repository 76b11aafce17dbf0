package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"EirLedger/internal/coordinator"
	"EirLedger/internal/core"
	"EirLedger/internal/observability"
	"EirLedger/internal/persistence"
	"EirLedger/internal/query"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newCalculateCmd(rc *rootConfig) *cobra.Command {
	var (
		workers      int
		batchSize    int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "calculate <calculation-task-id>",
		Short: "Run one calculation in-process and print its status stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("calculation task id must be an integer: %q", args[0])
			}
			if workers > 0 {
				rc.cfg.Workers = workers
			}
			if batchSize > 0 {
				rc.cfg.BatchSize = batchSize
			}
			return rc.calculate(cmd.Context(), cmd.OutOrStdout(), runID, pollInterval)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default from config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "exposures per batch (default from config)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "status poll interval")
	return cmd
}

func (rc *rootConfig) calculate(ctx context.Context, out io.Writer, runID int64, pollInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := rc.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	pool, err := pgxpool.New(ctx, rc.cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	defer pool.Close()

	level := observability.ParseLogLevel(rc.cfg.LogLevel)
	reader := query.NewReader(db, query.NewCache(rc.cfg.CacheCapacity), nil)
	writer := persistence.NewOutputWriter(pool, nil)
	processor := core.NewProcessor(reader, writer, observability.NewLoggerWithLevel("engine", level), nil)
	coord := coordinator.New(reader, processor, nil, coordinator.Options{
		Workers:     rc.cfg.Workers,
		BatchSize:   rc.cfg.BatchSize,
		GracePeriod: rc.cfg.GracePeriod,
	}, observability.NewLoggerWithLevel("coordinator", level), nil)

	if err := coord.Start(runID); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for {
			rec, ok := coord.Poll()
			if !ok {
				return fmt.Errorf("run %d ended without a terminal status", runID)
			}
			printStatus(out, rec)
			if rec.Status == coordinator.StatusFailed {
				return fmt.Errorf("run %d failed", runID)
			}
			if rec.Terminal() {
				return nil
			}
			if len(rec.BusinessLogs) == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(out, coord.Cancel())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStatus(out io.Writer, rec coordinator.StatusRecord) {
	for _, l := range rec.BusinessLogs {
		fmt.Fprintf(out, "[%s] %s: %s\n", rec.Status, l.Level, l.Message)
		if l.Exception != "" && rec.Status == coordinator.StatusFailed {
			fmt.Fprintln(out, l.Exception)
		}
	}
}
