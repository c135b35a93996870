package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cml-project/cml/internal/app"
	"github.com/cml-project/cml/internal/lockfile"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the outbox vector worker and the consolidation worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		a, err := app.Open(ctx, projectDir, log)
		if err != nil {
			return fmt.Errorf("worker: open app: %w", err)
		}
		defer a.Close()

		if err := a.AcquireWorkerLock(); err != nil {
			if lockfile.IsLocked(err) {
				return fmt.Errorf("worker: another worker daemon is already running for %s", projectDir)
			}
			return fmt.Errorf("worker: acquire lock: %w", err)
		}

		go func() {
			if err := a.OutboxWorker.Run(ctx, projectDir); err != nil && ctx.Err() == nil {
				log.Error("vector worker stopped", "error", err)
			}
		}()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if !a.Consolidation.ShouldRun() {
					continue
				}
				report, err := a.Consolidation.Run(ctx)
				if err != nil {
					log.Error("consolidation run failed", "error", err)
					continue
				}
				log.Info("consolidation run complete",
					"consolidated", report.ConsolidatedCount, "promoted_rules", report.PromotedRuleCount,
					"reduction_ratio", report.ReductionRatio, "quality_guard_passed", report.QualityGuardPassed)
			}
		}
	},
}
