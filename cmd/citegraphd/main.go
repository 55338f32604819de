// citegraphd is the ingestion and query daemon: it loads configuration,
// opens the backing stores, starts the worker pool and GC timers, and serves
// the HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"citegraph/internal/config"
	"citegraph/internal/embeddings"
	"citegraph/internal/extract"
	"citegraph/internal/httpapi"
	"citegraph/internal/jobs"
	"citegraph/internal/llm"
	"citegraph/internal/objectstore"
	"citegraph/internal/observability"
	"citegraph/internal/persistence/databases"
	"citegraph/internal/pipeline/index"
	"citegraph/internal/pipeline/ner"
	"citegraph/internal/pipeline/relate"
	"citegraph/internal/rag"
	"citegraph/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("daemon_failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	embedder, err := embeddings.Build(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}

	mgr, err := openStores(ctx, cfg, embedder.Dimension())
	if err != nil {
		return err
	}
	defer mgr.Close()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	indexer := &index.Indexer{
		Blobs:  blobs,
		Graph:  mgr.Graph,
		Vector: mgr.Vector,
		Jobs:   mgr.Jobs,
		Cache:  mgr.Cache,
	}

	var generative llm.Provider
	if gp, err := llm.Build(cfg.Generative); err == nil {
		generative = gp
	} else {
		log.Warn().Err(err).Msg("generative_provider_unconfigured_model_features_disabled")
	}

	pipeline := &jobs.Pipeline{
		Registry:     buildRegistry(cfg),
		Ingestion:    cfg.Ingestion,
		Linker:       cfg.Linker,
		Relations:    cfg.Relations,
		Tagger:       buildTagger(cfg, generative),
		Embedder:     embedder,
		Indexer:      indexer,
		CorefEnabled: cfg.Ingestion.CorefEnabled,
	}
	if generative != nil && cfg.Relations.VerifyWithLM {
		pipeline.Verifier = &relate.LMVerifier{Provider: generative}
	}

	var publisher jobs.TerminalPublisher
	if cfg.Kafka.Enabled {
		pub, err := jobs.NewKafkaTerminalPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}

	bus := jobs.NewBus(mgr.Jobs, mgr.Cache)
	manager := jobs.NewManager(cfg.Ingestion, mgr.Jobs, mgr.Cache, bus, pipeline, publisher)

	// Jobs orphaned by a previous crash go back to the queue.
	cutoff := time.Now().Add(-time.Duration(cfg.Ingestion.HeartbeatTimeoutSeconds) * time.Second)
	if requeued, err := mgr.Jobs.RequeueAbandoned(ctx, cutoff); err != nil {
		log.Warn().Err(err).Msg("startup_requeue_failed")
	} else if len(requeued) > 0 {
		log.Info().Strs("job_ids", requeued).Msg("requeued_abandoned_jobs")
	}

	go manager.Run(ctx)
	go runSweeps(ctx, manager, indexer)

	resolver := &rag.Resolver{
		Embedder:   embedder,
		Generative: generative,
		Vector:     mgr.Vector,
		Graph:      mgr.Graph,
		Jobs:       mgr.Jobs,
		Blobs:      blobs,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(manager, resolver),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", addr).Msg("citegraphd_listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// openStores resolves the configured backends, in-memory when unset.
func openStores(ctx context.Context, cfg config.Config, dimensions int) (databases.Manager, error) {
	var mgr databases.Manager

	if dsn := cfg.Database.ConnectionString; dsn != "" {
		pool, err := databases.OpenPool(ctx, dsn)
		if err != nil {
			return mgr, fmt.Errorf("open postgres: %w", err)
		}
		graph, err := databases.NewPostgresGraph(ctx, pool)
		if err != nil {
			return mgr, err
		}
		jobsStore, err := databases.NewPostgresJobs(ctx, pool)
		if err != nil {
			return mgr, err
		}
		mgr.Graph = graph
		mgr.Jobs = jobsStore
	} else {
		log.Warn().Msg("no_database_configured_using_memory_stores")
		mgr.Graph = databases.NewMemoryGraph()
		mgr.Jobs = databases.NewMemoryJobs()
	}

	if cfg.Vector.DSN != "" {
		vec, err := databases.NewQdrantVector(cfg.Vector.DSN, cfg.Vector.Collection, dimensions, cfg.Vector.Metric)
		if err != nil {
			return mgr, fmt.Errorf("open qdrant: %w", err)
		}
		mgr.Vector = vec
	} else {
		mgr.Vector = databases.NewMemoryVector(dimensions)
	}

	if cfg.Redis.Enabled {
		cache, err := databases.NewRedisCache(cfg.Redis)
		if err != nil {
			return mgr, fmt.Errorf("open redis: %w", err)
		}
		mgr.Cache = cache
	} else {
		mgr.Cache = databases.NewMemoryCache()
	}
	return mgr, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if cfg.S3.Enabled {
		return objectstore.NewS3Store(ctx, cfg.S3)
	}
	log.Warn().Msg("no_object_store_configured_using_memory_blobs")
	return objectstore.NewMemoryStore(), nil
}

func buildRegistry(cfg config.Config) *extract.Registry {
	extractors := []extract.Extractor{
		extract.NewPDFExtractor(),
	}
	if cfg.Video.WhisperModelPath != "" {
		extractors = append(extractors, extract.NewVideoExtractor(cfg.Video.WhisperModelPath))
	}
	// The web extractor matches any http(s) URL; it goes last.
	extractors = append(extractors, extract.NewWebExtractor())
	return extract.NewRegistry(extractors...)
}

func buildTagger(cfg config.Config, generative llm.Provider) ner.Tagger {
	var base ner.Tagger = ner.NewPatternTagger()
	if cfg.NER.Backend == "onnx" && cfg.NER.ModelPath != "" {
		if onnx, err := ner.NewONNXTagger(cfg.NER.ModelPath); err == nil {
			base = onnx
		} else {
			log.Warn().Err(err).Msg("onnx_tagger_unavailable_falling_back_to_patterns")
		}
	}
	if cfg.NER.LMFallback && generative != nil {
		return &ner.FallbackTagger{Base: base, Provider: generative}
	}
	return base
}

// runSweeps schedules entity GC and retention pruning outside ingestion.
func runSweeps(ctx context.Context, manager *jobs.Manager, indexer *index.Indexer) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := indexer.SweepOrphanEntities(ctx); err != nil {
				log.Warn().Err(err).Msg("entity_sweep_failed")
			} else if removed > 0 {
				log.Info().Int("removed", removed).Msg("entity_sweep_completed")
			}
			if err := manager.PruneExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("retention_prune_failed")
			}
		}
	}
}
