package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cml-project/cml/internal/app"
)

type syncGapReport struct {
	TotalEvents             int `json:"totalEvents"`
	InEventsNotLeveledCount int `json:"inEventsNotLeveledCount"`
	OutboxPendingCount      int `json:"outboxPendingCount"`
	OutboxFailedCount       int `json:"outboxFailedCount"`
}

var reportSyncGapCmd = &cobra.Command{
	Use:   "report-sync-gap",
	Short: "Print the gap between events, their memory levels, and the embedding outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		a, err := app.Open(ctx, projectDir, log)
		if err != nil {
			return fmt.Errorf("report-sync-gap: open app: %w", err)
		}
		defer a.Close()

		total, err := a.Events.CountEvents(ctx)
		if err != nil {
			return fmt.Errorf("report-sync-gap: count events: %w", err)
		}
		unleveled, err := a.Events.CountUnleveled(ctx)
		if err != nil {
			return fmt.Errorf("report-sync-gap: count unleveled: %w", err)
		}
		pending, err := a.Outbox.PendingCount(ctx)
		if err != nil {
			return fmt.Errorf("report-sync-gap: pending count: %w", err)
		}
		failed, err := a.Outbox.FailedCount(ctx)
		if err != nil {
			return fmt.Errorf("report-sync-gap: failed count: %w", err)
		}

		return json.NewEncoder(os.Stdout).Encode(syncGapReport{
			TotalEvents:             total,
			InEventsNotLeveledCount: unleveled,
			OutboxPendingCount:      pending,
			OutboxFailedCount:       failed,
		})
	},
}

type syncGapFix struct {
	LeveledInserted           int `json:"leveledInserted"`
	RecoveredProcessingOutbox int `json:"recoveredProcessingOutbox"`
}

var fixSyncGapCmd = &cobra.Command{
	Use:   "fix-sync-gap",
	Short: "Insert missing L0 levels and reset stuck outbox rows back to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		a, err := app.Open(ctx, projectDir, log)
		if err != nil {
			return fmt.Errorf("fix-sync-gap: open app: %w", err)
		}
		defer a.Close()

		leveled, err := a.Events.LevelUnleveled(ctx)
		if err != nil {
			return fmt.Errorf("fix-sync-gap: level unleveled: %w", err)
		}
		recovered, err := a.Outbox.ResetStale(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("fix-sync-gap: reset stale outbox: %w", err)
		}

		return json.NewEncoder(os.Stdout).Encode(syncGapFix{
			LeveledInserted:           leveled,
			RecoveredProcessingOutbox: recovered,
		})
	},
}
