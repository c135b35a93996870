// Package retriever implements the Retriever (C7): strategy-selectable
// recall over the event store, vector store, and graph backend, with
// score fusion and confidence labelling.
package retriever

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cml-project/cml/internal/embedder"
	"github.com/cml-project/cml/internal/eventstore"
	"github.com/cml-project/cml/internal/graph"
	"github.com/cml-project/cml/internal/types"
	"github.com/cml-project/cml/internal/vectorstore"
)

// Strategy selects how Retriever.Retrieve gathers candidates.
type Strategy string

const (
	StrategyFast   Strategy = "fast"
	StrategyHybrid Strategy = "hybrid"
	StrategyDeep   Strategy = "deep"
)

// Confidence labels the result set's reliability for the caller.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceSuggested Confidence = "suggested"
	ConfidenceLow       Confidence = "low"
	ConfidenceNone      Confidence = "none"
)

// Query is the retrieve call's input, mirroring spec.md §4.7.
type Query struct {
	Text     string
	TopK     int
	MinScore float64
	Scope    map[string]interface{} // dotted key paths -> required values
	Strategy Strategy
}

// Scored pairs an event with its fused relevance score.
type Scored struct {
	Event *types.Event
	Score float64
}

// Result is Retriever.Retrieve's output.
type Result struct {
	Memories   []Scored
	Match      *Scored
	Confidence Confidence
}

// Config governs thresholds, mirroring internal/config.Config's
// retriever fields.
type Config struct {
	TopKDefault   int
	MinScore      float64
	HighThreshold float64
}

// Retriever answers retrieve() calls against C1, C2, and (for the deep
// strategy) C4.
type Retriever struct {
	events eventstore.Store
	vec    vectorstore.Store
	embed  embedder.Embedder
	gr     graph.Backend
	cfg    Config
	log    *slog.Logger

	tracer trace.Tracer
}

func New(events eventstore.Store, vec vectorstore.Store, embed embedder.Embedder, gr graph.Backend, cfg Config, log *slog.Logger) *Retriever {
	return &Retriever{
		events: events, vec: vec, embed: embed, gr: gr, cfg: cfg, log: log,
		tracer: otel.Tracer("github.com/cml-project/cml/retriever"),
	}
}

// Retrieve runs q.Strategy (defaulting to hybrid) and returns ranked,
// scope-filtered, confidence-labelled results. Every returned event has
// its access stats touched best-effort.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	if q.TopK <= 0 {
		q.TopK = r.cfg.TopKDefault
	}
	if q.MinScore <= 0 {
		q.MinScore = r.cfg.MinScore
	}
	strategy := q.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}

	ctx, span := r.tracer.Start(ctx, "cml.retrieve", trace.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.Int("top_k", q.TopK),
	))
	defer span.End()

	var (
		scored []Scored
		err    error
	)
	switch strategy {
	case StrategyFast:
		scored, err = r.fast(ctx, q)
	case StrategyDeep:
		scored, err = r.hybrid(ctx, q)
		if err == nil {
			scored, err = r.expand(ctx, scored, q.TopK)
		}
	default:
		scored, err = r.hybrid(ctx, q)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	scored = applyScope(scored, q.Scope)
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > q.TopK {
		scored = scored[:q.TopK]
	}

	result := Result{Memories: scored, Confidence: ConfidenceNone}
	if len(scored) > 0 {
		top := scored[0]
		result.Match = &top
		switch {
		case top.Score >= r.cfg.HighThreshold:
			result.Confidence = ConfidenceHigh
		case top.Score >= q.MinScore:
			result.Confidence = ConfidenceSuggested
		default:
			result.Confidence = ConfidenceLow
		}
	}

	span.SetAttributes(
		attribute.Int("result_count", len(result.Memories)),
		attribute.String("confidence", string(result.Confidence)),
	)

	r.touchAccess(ctx, result.Memories)
	return result, nil
}

func (r *Retriever) fast(ctx context.Context, q Query) ([]Scored, error) {
	events, err := r.events.KeywordSearch(ctx, q.Text, q.TopK)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, len(events))
	for i, e := range events {
		out[i] = Scored{Event: e, Score: 1}
	}
	return out, nil
}

func (r *Retriever) hybrid(ctx context.Context, q Query) ([]Scored, error) {
	byEvent := map[string]*Scored{}

	if r.embed != nil && r.vec != nil {
		vec, err := r.embed.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		hits, err := r.vec.Search(ctx, vec, 3*q.TopK, nil)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			event, err := r.events.Get(ctx, h.EventID)
			if err != nil {
				continue
			}
			normalized := (h.Score + 1) / 2
			mergeMax(byEvent, event, normalized)
		}
	}

	keywordEvents, err := r.events.KeywordSearch(ctx, q.Text, 2*q.TopK)
	if err != nil {
		return nil, err
	}
	for _, e := range keywordEvents {
		mergeMax(byEvent, e, 1)
	}

	out := make([]Scored, 0, len(byEvent))
	for _, s := range byEvent {
		out = append(out, *s)
	}
	return out, nil
}

// expand performs the deep strategy's 2-hop evidence_of expansion,
// merging related entries into the hybrid result set at 0.8 times the
// score of the entry they were reached from, so a graph-derived entry
// ranks below its seed; it can still outrank a weaker direct match.
func (r *Retriever) expand(ctx context.Context, base []Scored, topK int) ([]Scored, error) {
	if r.gr == nil {
		return base, nil
	}
	byEvent := map[string]*Scored{}
	for _, s := range base {
		cp := s
		byEvent[s.Event.ID] = &cp
	}

	seed := base
	if len(seed) > topK {
		seed = seed[:topK]
	}
	for _, s := range seed {
		edges, err := r.gr.FindRelatedEntries(ctx, s.Event.ID)
		if err != nil {
			continue
		}
		for _, edge := range edges {
			related, err := r.events.Get(ctx, edge.DstID)
			if err != nil {
				continue
			}
			mergeMax(byEvent, related, s.Score*0.8)
		}
	}

	out := make([]Scored, 0, len(byEvent))
	for _, s := range byEvent {
		out = append(out, *s)
	}
	return out, nil
}

func mergeMax(byEvent map[string]*Scored, e *types.Event, score float64) {
	if existing, ok := byEvent[e.ID]; ok {
		if score > existing.Score {
			existing.Score = score
		}
		return
	}
	byEvent[e.ID] = &Scored{Event: e, Score: score}
}

// applyScope drops scored entries that fail any dotted-key-path
// constraint in scope; filtering is post-fetch per spec.md §4.7.
func applyScope(scored []Scored, scope map[string]interface{}) []Scored {
	if len(scope) == 0 {
		return scored
	}
	out := scored[:0]
	for _, s := range scored {
		if matchesScope(s.Event.Metadata, scope) {
			out = append(out, s)
		}
	}
	return out
}

func matchesScope(meta types.Metadata, scope map[string]interface{}) bool {
	for path, want := range scope {
		got, ok := meta.Get(path)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (r *Retriever) touchAccess(ctx context.Context, scored []Scored) {
	for _, s := range scored {
		if err := r.events.TouchAccess(ctx, s.Event.ID); err != nil && r.log != nil {
			r.log.Warn("retriever: touch access failed", "event_id", s.Event.ID, "error", err)
		}
	}
}
