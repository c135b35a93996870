// Command cml-hook-post-tool is the post-tool-use hook entry point: a
// thin stdin/stdout JSON process spawned once per tool invocation, per
// spec.md §6. It stores the tool call as a tool_observation event
// unless the tool is excluded or (when configured) the call failed.
// Never fails loudly: any error is logged to stderr and stdout still
// gets a well-formed, empty response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cml-project/cml/internal/app"
	"github.com/cml-project/cml/internal/interceptor"
	"github.com/cml-project/cml/internal/types"
)

type postToolIn struct {
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	ToolOutput json.RawMessage `json:"tool_output"`
	ToolError  string          `json:"tool_error,omitempty"`
	StartedAt  string          `json:"started_at"`
	EndedAt    string          `json:"ended_at"`
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var in postToolIn
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		log.Error("hook-post-tool: decode stdin", "error", err)
		emit()
		return
	}

	projectDir := os.Getenv("CML_PROJECT_DIR")
	if projectDir == "" {
		projectDir = "."
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := app.Open(ctx, projectDir, log)
	if err != nil {
		log.Error("hook-post-tool: open app", "error", err)
		emit()
		return
	}
	defer a.Close()

	run(ctx, a, in, log)
	emit()
}

func run(ctx context.Context, a *app.App, in postToolIn, log *slog.Logger) {
	if isExcluded(a, in.ToolName) {
		return
	}
	if a.Config.StoreOnlyOnSuccess && in.ToolError != "" {
		return
	}

	content := formatToolCall(in)

	event := &types.Event{
		EventType: types.EventToolObservation,
		SessionID: in.SessionID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata: types.Metadata{
			"tool_name":  in.ToolName,
			"started_at": in.StartedAt,
			"ended_at":   in.EndedAt,
			"tool_error": in.ToolError,
		},
	}

	a.Interceptors.Run(ctx, interceptor.PhaseBefore, event)

	result, err := a.Events.Append(ctx, types.AppendInput{
		EventType: event.EventType,
		SessionID: event.SessionID,
		Content:   event.Content,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	})
	if err != nil {
		log.Error("hook-post-tool: append", "error", err, "tool", in.ToolName)
		return
	}
	event.ID = result.ID

	a.Interceptors.Run(ctx, interceptor.PhaseAfter, event)

	if a.Mirror != nil {
		if err := a.Mirror.Write(ctx, event); err != nil {
			log.Warn("hook-post-tool: mirror write failed", "error", err)
		}
	}
}

func isExcluded(a *app.App, toolName string) bool {
	for _, t := range a.Config.ExcludedTools {
		if t == toolName {
			return true
		}
	}
	return false
}

func formatToolCall(in postToolIn) string {
	b, _ := json.Marshal(map[string]json.RawMessage{
		"input":  in.ToolInput,
		"output": in.ToolOutput,
	})
	return fmt.Sprintf("%s: %s", in.ToolName, string(b))
}

func emit() {
	if err := json.NewEncoder(os.Stdout).Encode(struct{}{}); err != nil {
		fmt.Fprintln(os.Stderr, "hook-post-tool: encode stdout:", err)
	}
}
