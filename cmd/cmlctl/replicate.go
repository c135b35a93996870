package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cml-project/cml/internal/app"
	"github.com/cml-project/cml/internal/replication"
)

var (
	peerURL  string
	pullOnce bool
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Pull new events from a peer project's replication feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if peerURL == "" {
			return fmt.Errorf("replicate: --peer is required")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		a, err := app.Open(ctx, projectDir, log)
		if err != nil {
			return fmt.Errorf("replicate: open app: %w", err)
		}
		defer a.Close()

		peer := replication.NewHTTPPeer(peerURL)
		puller := a.Puller(peer)

		if pullOnce {
			result, err := puller.PullOnce(ctx)
			if err != nil {
				return fmt.Errorf("replicate: pull: %w", err)
			}
			log.Info("replicate: pull complete", "created", result.Created, "skipped", result.Skipped)
			return nil
		}

		cursorPath := filepath.Join(projectDir, ".replication_cursor")
		return puller.Run(ctx, cursorPath, 30*time.Second)
	},
}

func init() {
	replicateCmd.Flags().StringVar(&peerURL, "peer", "", "base URL of the peer project's replication feed")
	replicateCmd.Flags().BoolVar(&pullOnce, "once", false, "pull a single batch and exit instead of running continuously")
}
