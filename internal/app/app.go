// Package app wires the project's storage backends, workers, and
// domain services from config into a single object shared by cmlctl and
// the hook binaries, modeled on the teacher's cmd/bd daemon wiring
// (config-driven backend selection, optional NATS, constructor
// injection throughout).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cml-project/cml/internal/config"
	"github.com/cml-project/cml/internal/continuity"
	"github.com/cml-project/cml/internal/embedder"
	"github.com/cml-project/cml/internal/eventstore"
	"github.com/cml-project/cml/internal/eventstore/sqlite"
	"github.com/cml-project/cml/internal/graph"
	"github.com/cml-project/cml/internal/graph/neo4jgraph"
	"github.com/cml-project/cml/internal/graph/sqlitegraph"
	"github.com/cml-project/cml/internal/interceptor"
	"github.com/cml-project/cml/internal/lockfile"
	"github.com/cml-project/cml/internal/mdmirror"
	"github.com/cml-project/cml/internal/outbox"
	"github.com/cml-project/cml/internal/replication"
	"github.com/cml-project/cml/internal/retriever"
	"github.com/cml-project/cml/internal/shared"
	"github.com/cml-project/cml/internal/vectorstore"
	"github.com/cml-project/cml/internal/vectorstore/localvec"
	"github.com/cml-project/cml/internal/vectorstore/qdrantvec"
	"github.com/cml-project/cml/internal/workingset"
)

// App bundles every component named in SPEC_FULL.md's component design,
// constructed once per project directory.
type App struct {
	Config config.Config
	Log    *slog.Logger

	Events    eventstore.Store
	Outbox    outbox.Queue
	Vector    vectorstore.Store
	Graph     graph.Backend
	Embed     embedder.Embedder
	Shared    *shared.Store
	WorkingSet *workingset.Set
	Consolidation *workingset.ConsolidationWorker
	Retriever *retriever.Retriever
	Continuity *continuity.Manager
	Interceptors *interceptor.Registry
	OutboxWorker *outbox.Worker
	Mirror       *mdmirror.Mirror

	nc   *nats.Conn
	lock *lockfile.Lock

	dir string
}

// Open wires the full App for projectDir, reading <projectDir>/config.yaml
// (or defaults) and opening <projectDir>/events.sqlite.
func Open(ctx context.Context, projectDir string, log *slog.Logger) (*App, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(projectDir, "events.sqlite")
	}
	store, err := sqlite.Open(dbPath, cfg.BusyTimeoutMS, log)
	if err != nil {
		return nil, fmt.Errorf("app: open event store: %w", err)
	}

	a := &App{Config: cfg, Log: log, Events: store, Outbox: store, dir: projectDir}

	if a.Embed, err = buildEmbedder(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	if a.Vector, err = buildVectorStore(ctx, cfg, projectDir); err != nil {
		_ = store.Close()
		return nil, err
	}
	if a.Graph, err = buildGraphBackend(cfg, store); err != nil {
		_ = store.Close()
		return nil, err
	}

	var publisher shared.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Warn("app: nats connect failed, promotions won't publish", "error", err)
		} else {
			a.nc = nc
			if js, err := nc.JetStream(); err == nil {
				publisher = shared.NewNATSPublisher(js, log)
			}
		}
	}
	a.Shared = shared.New(store.DB(), cfg.MinConfidenceForPromotion,
		shared.WithVectorStore(a.Vector), shared.WithEmbedder(a.Embed), shared.WithPublisher(publisher))

	var mirror *workingset.RedisMirror
	if cfg.RedisAddr != "" {
		mirror, err = workingset.NewRedisMirror(cfg.RedisAddr, "cml:workingset:"+projectDir, cfg.WorkingSetWindow)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("app: new redis mirror: %w", err)
		}
	}
	a.WorkingSet, err = workingset.New(cfg.MaxWorkingSetEvents, cfg.WorkingSetWindow, mirror)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: new working set: %w", err)
	}
	a.Consolidation = workingset.NewConsolidationWorker(a.WorkingSet, store, workingset.TriggerConfig{
		EventCount: cfg.TriggerEventCount, Interval: cfg.TriggerInterval, IdleGap: cfg.TriggerIdle,
		MinSimilarity: cfg.MinSimilarity, RuleThreshold: cfg.RuleThreshold,
		MinRecurrences: cfg.MinRecurrences, MinCoverage: cfg.MinCoverage,
	}, log)

	a.Retriever = retriever.New(store, a.Vector, a.Embed, a.Graph, retriever.Config{
		TopKDefault: cfg.TopKDefault, MinScore: cfg.MinScore, HighThreshold: cfg.HighThreshold,
	}, log)

	a.Continuity = continuity.New(continuity.Config{
		DecayHours: cfg.DecayHours, MinScoreForSeamless: cfg.MinScoreForSeamless,
	}, log)

	a.Interceptors = interceptor.New(log, nil)

	a.OutboxWorker = outbox.NewWorker(store, a.Embed, a.Vector, outbox.Config{
		BatchSize: cfg.OutboxBatchSize, Interval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxRetries: cfg.MaxRetries, StaleAfter: cfg.StaleAfter,
	}, log)

	if cfg.MirrorEnabled {
		a.Mirror = mdmirror.New(filepath.Join(projectDir, cfg.MirrorDir), log)
	}

	return a, nil
}

// AcquireWorkerLock enforces the single-writer-daemon-per-project
// invariant before a long-running worker starts.
func (a *App) AcquireWorkerLock() error {
	lock, err := lockfile.Acquire(filepath.Join(a.dir, ".worker.lock"))
	if err != nil {
		return err
	}
	a.lock = lock
	return nil
}

func (a *App) Close() error {
	if a.lock != nil {
		_ = a.lock.Release()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.Vector != nil {
		_ = a.Vector.Close()
	}
	if a.Graph != nil {
		_ = a.Graph.Close()
	}
	if a.WorkingSet != nil {
		_ = a.WorkingSet.Close()
	}
	return a.Events.Close()
}

func buildEmbedder(cfg config.Config) (embedder.Embedder, error) {
	return embedder.NewHTTPEmbedder(cfg.EmbedderEndpoint, cfg.EmbedderModel, cfg.EmbedderAPIKey, cfg.EmbedderDimensions), nil
}

func buildVectorStore(ctx context.Context, cfg config.Config, projectDir string) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return qdrantvec.New(ctx, cfg.QdrantAddr, cfg.QdrantCollection, cfg.EmbedderDimensions)
	default:
		return localvec.Open(filepath.Join(projectDir, "vectors"))
	}
}

func buildGraphBackend(cfg config.Config, store *sqlite.Store) (graph.Backend, error) {
	switch cfg.GraphBackend {
	case "neo4j":
		return neo4jgraph.New(cfg.Neo4jURI, "neo4j", "")
	default:
		return sqlitegraph.New(store.DB()), nil
	}
}

// Puller builds a replication.Puller against a remote peer's event feed,
// used by the `replicate` subcommand.
func (a *App) Puller(peer replication.Peer) *replication.Puller {
	cursorPath := filepath.Join(a.dir, ".replication_cursor")
	return replication.New(peer, a.Events, replication.NewFileCursor(cursorPath), replication.Options{
		BatchLimit: a.Config.OutboxBatchSize,
	}, a.Log)
}
