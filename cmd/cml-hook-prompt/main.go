// Command cml-hook-prompt is the user-prompt-submit hook entry point: a
// thin stdin/stdout JSON process spawned once per prompt, per spec.md
// §6. It ingests the prompt as an event, retrieves related memories,
// scores the continuity transition, and returns a context string for
// the caller to inject into the agent's prompt. The continuity manager
// keeps its last context in process memory only, so each hook run
// scores its prompt as a first observation (score 1, seamless); no
// context is carried over from earlier runs. Never fails loudly: any error is
// logged to stderr and stdout still gets a well-formed, empty response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cml-project/cml/internal/app"
	"github.com/cml-project/cml/internal/continuity"
	"github.com/cml-project/cml/internal/interceptor"
	"github.com/cml-project/cml/internal/retriever"
	"github.com/cml-project/cml/internal/types"
)

type promptIn struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Cwd       string `json:"cwd"`
}

type promptOut struct {
	Context string `json:"context"`
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var in promptIn
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		log.Error("hook-prompt: decode stdin", "error", err)
		emit(promptOut{})
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
		log.Error("hook-prompt: open app", "error", err)
		emit(promptOut{})
		return
	}
	defer a.Close()

	emit(promptOut{Context: run(ctx, a, in, log)})
}

func run(ctx context.Context, a *app.App, in promptIn, log *slog.Logger) string {
	event := &types.Event{
		EventType: types.EventUserPrompt,
		SessionID: in.SessionID,
		Content:   in.Prompt,
		Timestamp: time.Now().UTC(),
		Metadata:  types.Metadata{"cwd": in.Cwd},
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
		log.Error("hook-prompt: append", "error", err)
		return ""
	}
	event.ID = result.ID

	a.Interceptors.Run(ctx, interceptor.PhaseAfter, event)

	if a.Mirror != nil {
		if err := a.Mirror.Write(ctx, event); err != nil {
			log.Warn("hook-prompt: mirror write failed", "error", err)
		}
	}

	snap := continuity.ExtractSnapshot(in.Prompt)
	score := a.Continuity.Observe(ctx, snap)

	memories, err := a.Retriever.Retrieve(ctx, retriever.Query{
		Text:     in.Prompt,
		Strategy: retriever.StrategyHybrid,
	})
	if err != nil {
		log.Warn("hook-prompt: retrieve", "error", err)
		return ""
	}

	return formatContext(memories, score)
}

func formatContext(result retriever.Result, score continuity.Score) string {
	if len(result.Memories) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "transition: %s (score %.2f)\n", score.Transition, score.Total)
	for _, m := range result.Memories {
		fmt.Fprintf(&b, "- [%s] %.2f %s\n", m.Event.EventType, m.Score, truncate(m.Event.Content, 200))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func emit(out promptOut) {
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "hook-prompt: encode stdout:", err)
	}
}
