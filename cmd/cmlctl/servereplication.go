package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cml-project/cml/internal/app"
)

var replicationListenAddr string

var serveReplicationCmd = &cobra.Command{
	Use:   "serve-replication",
	Short: "Serve this project's event feed over HTTP for a peer's replicate puller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		a, err := app.Open(ctx, projectDir, log)
		if err != nil {
			return fmt.Errorf("serve-replication: open app: %w", err)
		}
		defer a.Close()

		mux := http.NewServeMux()
		mux.HandleFunc("/cml.v1.Replication/GetEventsSinceRowid", func(w http.ResponseWriter, r *http.Request) {
			handleGetEventsSinceRowid(ctx, a, w, r, log)
		})

		srv := &http.Server{Addr: replicationListenAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()

		log.Info("serve-replication: listening", "addr", replicationListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve-replication: listen: %w", err)
		}
		return nil
	},
}

type getEventsSinceRowidRequestBody struct {
	Cursor int64 `json:"cursor"`
	Limit  int   `json:"limit"`
}

func handleGetEventsSinceRowid(ctx context.Context, a *app.App, w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	var req getEventsSinceRowidRequestBody
	if r.Body != nil {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 256
	}

	events, err := a.Events.GetEventsSinceRowid(r.Context(), req.Cursor, req.Limit)
	if err != nil {
		log.Error("serve-replication: get events since rowid", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"events": events}); err != nil {
		log.Error("serve-replication: encode response", "error", err)
	}
}

func init() {
	serveReplicationCmd.Flags().StringVar(&replicationListenAddr, "listen", ":7777", "address to listen on")
}
