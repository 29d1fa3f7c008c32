// Package app is the composition root shared by the server, the indexer CLI
// and the library client.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/chunker"
	"github.com/kailas-cloud/policyrag/internal/config"
	"github.com/kailas-cloud/policyrag/internal/db"
	dbRedis "github.com/kailas-cloud/policyrag/internal/db/redis"
	dbValkey "github.com/kailas-cloud/policyrag/internal/db/valkey"
	"github.com/kailas-cloud/policyrag/internal/domain"
	"github.com/kailas-cloud/policyrag/internal/inference"
	"github.com/kailas-cloud/policyrag/internal/metrics"
	chunkrepo "github.com/kailas-cloud/policyrag/internal/repository/chunk"
	"github.com/kailas-cloud/policyrag/internal/repository/embcache"
	"github.com/kailas-cloud/policyrag/internal/repository/pgchunk"
	"github.com/kailas-cloud/policyrag/internal/source"
	geminiEmb "github.com/kailas-cloud/policyrag/internal/transport/gemini"
	openaiEmb "github.com/kailas-cloud/policyrag/internal/transport/openai"
	"github.com/kailas-cloud/policyrag/internal/usecase/assembly"
	embeddinguc "github.com/kailas-cloud/policyrag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/policyrag/internal/usecase/health"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
	retrievaluc "github.com/kailas-cloud/policyrag/internal/usecase/retrieval"
	searchuc "github.com/kailas-cloud/policyrag/internal/usecase/search"
)

// chunkStore is what both the indexer and search need from a backend.
type chunkStore interface {
	indexeruc.Store
	searchuc.Repository
	EnsureSchema(ctx context.Context) error
}

// App holds the wired services.
type App struct {
	Retrieval *retrievaluc.Service
	Search    *searchuc.Service
	Indexer   *indexeruc.Service
	Health    *healthuc.Service
	Catalog   *source.Catalog

	closers []func() error
	logger  *zap.Logger
}

// New connects to the chunk store and the embedding provider and wires every
// service. The caller must Close the App.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Register()

	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, kv, pinger, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
	err = store.EnsureSchema(sctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ensure chunk schema: %w", err)
	}

	docEmbedder, err := a.buildEmbedder(ctx, cfg, "document", cfg.Embedding.DocumentInstruction, nil)
	if err != nil {
		return nil, err
	}
	var cache cacheStore
	if *cfg.Cache.Enabled && kv != nil {
		cache = kv
	}
	queryEmbedder, err := a.buildEmbedder(ctx, cfg, "query", cfg.Embedding.QueryInstruction, cache)
	if err != nil {
		return nil, err
	}
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	loader, err := newLoader(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}
	a.Catalog = source.NewCatalog(loader)

	inferrer, err := newInferrer(cfg, logger)
	if err != nil {
		return nil, err
	}

	r := cfg.Retrieval
	a.Search, err = searchuc.New(
		withTimeout(store, time.Duration(r.StoreTimeoutMs)*time.Millisecond),
		queryEmbedder, inferrer,
		searchuc.Config{
			MinSimilarity:  *r.MinSimilarity,
			KeywordWeight:  *r.HybridKeywordWeight,
			SemanticWeight: *r.HybridSemanticWeight,
			Fusion:         searchuc.Fusion(r.Fusion),
			HybridEnabled:  *r.HybridEnabled,
			MinConfidence:  cfg.Inference.MinConfidence,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	a.Retrieval = retrievaluc.New(a.Search, assembly.New(assembly.Format(r.ContextFormat)), retrievaluc.Config{
		TopK:            r.TopK,
		MinSimilarity:   *r.MinSimilarity,
		MaxTokens:       r.ContextMaxTokens,
		Deadline:        r.QueryDeadline(),
		FallbackEnabled: *r.FallbackEnabled,
		FallbackContext: r.FallbackContext,
		Header:          r.ContextHeader,
	}, logger)

	a.Indexer, err = indexeruc.New(
		a.Catalog,
		chunker.New(chunker.WithDescriptionLimit(cfg.Indexer.DescriptionLimit)),
		docEmbedder, store,
		indexeruc.Config{
			Model:        cfg.Embedding.Model,
			Concurrency:  cfg.Indexer.Concurrency,
			StoreTimeout: time.Duration(cfg.Indexer.StoreTimeoutMs) * time.Millisecond,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	a.Health = healthuc.New(pinger, docEmbedder).
		WithCheck("source", func(ctx context.Context) error {
			_, err := a.Catalog.Load(ctx)
			return err
		})

	ok = true
	return a, nil
}

// Close releases the store and provider clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// cacheStore is the key-value surface of the embedding cache.
type cacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// openStore returns the chunk store, the key-value store used by the
// embedding cache (nil for postgres) and the health pinger.
func (a *App) openStore(ctx context.Context, cfg config.Config) (chunkStore, cacheStore, healthuc.StorePinger, error) {
	space := cfg.Space()

	switch cfg.Database.Driver {
	case "postgres":
		pcfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: parse database.dsn: %w", domain.ErrConfiguration, err)
		}
		pcfg.MaxConns = cfg.Database.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		pctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
		err = pool.Ping(pctx)
		cancel()
		if err != nil {
			return nil, nil, nil, domain.NewStorageError("ping", err)
		}

		repo, err := pgchunk.New(pool, pgchunk.Config{
			Table:       trimPrefix(cfg.Storage.KeyPrefix) + "_chunks",
			Space:       space,
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		a.logger.Info("Connected to database", zap.String("driver", "postgres"))
		return repo, nil, pool, nil

	case "valkey", "redis":
		rcfg := dbRedis.Config{
			Addrs:      cfg.Database.Addrs,
			Password:   cfg.Database.Password,
			Standalone: cfg.Database.Standalone,
		}
		var (
			store db.Store
			err   error
		)
		if cfg.Database.Driver == "valkey" {
			store, err = dbValkey.NewStore(rcfg)
		} else {
			store, err = dbRedis.NewStore(rcfg)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })

		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			return nil, nil, nil, domain.NewStorageError("wait for ready", err)
		}

		repo, err := chunkrepo.New(store, chunkrepo.Config{
			KeyPrefix: cfg.Storage.KeyPrefix,
			Space:     space,
			HNSW: chunkrepo.HNSW{
				M:           cfg.Index.HNSWM,
				EFConstruct: cfg.Index.HNSWEFConstruct,
				EFRuntime:   cfg.Index.HNSWEFRuntime,
			},
		})
		if err != nil {
			return nil, nil, nil, err
		}
		a.logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)
		return repo, store, store, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown database driver %q", domain.ErrConfiguration, cfg.Database.Driver)
	}
}

// buildEmbedder assembles the decorator chain:
// provider -> cache (query path only) -> instruction -> pipeline.
func (a *App) buildEmbedder(
	ctx context.Context, cfg config.Config, task, instruction string, cache cacheStore,
) (*embeddinguc.Pipeline, error) {
	e := cfg.Embedding

	var base domain.Embedder
	switch e.Provider {
	case "gemini":
		g, closeFn, err := geminiEmb.NewEmbedder(ctx, &geminiEmb.Config{
			APIKey:   e.APIKey,
			Model:    e.Model,
			TaskType: task,
			Logger:   a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		base = g
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     e.APIKey,
			BaseURL:    e.BaseURL,
			Model:      e.Model,
			Dimensions: e.Dimensions,
			Provider:   e.Provider,
			Logger:     a.logger,
		})
	}

	embedder := base
	if cache != nil {
		embedder = embcache.New(base, cache, e.Model, a.logger,
			embcache.WithTTL(time.Duration(cfg.Cache.TTLSec)*time.Second),
			embcache.WithCacheCounter(metrics.EmbeddingCacheTotal),
		)
	}
	if instruction != "" {
		embedder = domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embeddinguc.NewPipeline(embedder, embeddinguc.Config{
		Provider:          e.Provider,
		Space:             cfg.Space(),
		BatchSize:         e.BatchSize,
		MaxAttempts:       e.MaxRetryAttempts,
		RetryBaseDelay:    time.Duration(e.RetryBaseDelayMs) * time.Millisecond,
		RequestsPerSecond: e.RequestsPerSecond,
		CallTimeout:       time.Duration(e.TimeoutMs) * time.Millisecond,
	}, a.logger)
}

func newLoader(ctx context.Context, cfg config.SourceConfig) (source.Loader, error) {
	if cfg.S3Bucket == "" {
		return source.NewFileLoader(cfg.Path), nil
	}
	return source.NewS3Loader(ctx, source.S3Config{
		Bucket:       cfg.S3Bucket,
		Key:          cfg.S3Key,
		Region:       cfg.S3Region,
		AWSAccessKey: cfg.AWSAccessKey,
		AWSSecretKey: cfg.AWSSecretKey,
	})
}

func newInferrer(cfg config.Config, logger *zap.Logger) (searchuc.Inferrer, error) {
	mode := inference.Mode(cfg.Inference.Mode)
	var classifier inference.Classifier
	if mode == inference.ModeExternal {
		classifier = openaiEmb.NewClassifier(&openaiEmb.ClassifierConfig{
			APIKey:  cfg.Inference.APIKey,
			BaseURL: cfg.Inference.BaseURL,
			Model:   cfg.Inference.Model,
			Logger:  logger,
		})
	}
	return inference.New(mode, classifier, logger,
		inference.WithMinConfidence(cfg.Inference.MinConfidence),
		inference.WithTimeout(time.Duration(cfg.Inference.TimeoutMs)*time.Millisecond),
	)
}

// trimPrefix turns a key prefix such as "policyrag:" into a table stem.
func trimPrefix(prefix string) string {
	out := make([]rune, 0, len(prefix))
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		}
	}
	if len(out) == 0 {
		return "policy"
	}
	return string(out)
}
