package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/chunker"
	"github.com/fyrsmithlabs/vecsnap/internal/config"
	"github.com/fyrsmithlabs/vecsnap/internal/embeddings"
	"github.com/fyrsmithlabs/vecsnap/internal/logging"
	"github.com/fyrsmithlabs/vecsnap/internal/mirror"
	"github.com/fyrsmithlabs/vecsnap/internal/pipeline"
	"github.com/fyrsmithlabs/vecsnap/internal/query"
	"github.com/fyrsmithlabs/vecsnap/internal/retention"
	"github.com/fyrsmithlabs/vecsnap/internal/scrub"
	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
	"github.com/fyrsmithlabs/vecsnap/internal/source"
	"github.com/fyrsmithlabs/vecsnap/internal/state"
	"github.com/fyrsmithlabs/vecsnap/internal/telemetry"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	closers []func() error
}

// setup loads configuration and initializes telemetry and logging.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging, tel.LoggerProvider() != nil)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// zap returns the plain logger handed to library packages.
func (a *app) zap() *zap.Logger {
	return a.logger.Underlying()
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn(ctx, "closing resource", zap.Error(err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// newEmbedder builds the provider and wraps it for text of any length.
func (a *app) newEmbedder() (*timeoutEmbedder, error) {
	ec := a.cfg.Embedding
	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:          ec.Provider,
		Model:             ec.Model,
		BaseURL:           ec.BaseURL,
		APIKey:            ec.APIKey.Value(),
		Dimension:         ec.Dimension,
		CacheDir:          ec.CacheDir,
		RequestsPerSecond: ec.RequestsPerSecond,
		Burst:             ec.Burst,
	}, a.zap())
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	a.closers = append(a.closers, provider.Close)

	tok, err := chunker.NewTiktoken(a.cfg.Chunking.Encoding)
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.NewSplitter(tok, a.cfg.Chunking.MaxTokens)
	if err != nil {
		return nil, err
	}

	long := embeddings.NewLong(provider, splitter, embeddings.LongConfig{
		Name:        ec.Provider,
		Concurrency: ec.Concurrency,
	}, a.zap())
	return &timeoutEmbedder{Long: long, timeout: ec.Timeout.Duration()}, nil
}

// timeoutEmbedder bounds every EmbedLong call by the configured timeout.
type timeoutEmbedder struct {
	*embeddings.Long
	timeout time.Duration
}

func (e *timeoutEmbedder) EmbedLong(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.Long.EmbedLong(ctx, text)
}

// repos parses the configured repository references.
func (a *app) repos() ([]source.Repo, error) {
	out := make([]source.Repo, 0, len(a.cfg.Sources.Repos))
	for _, s := range a.cfg.Sources.Repos {
		r, err := source.ParseRepo(s)
		if err != nil {
			return nil, fmt.Errorf("sources.repos: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *app) newLister(ctx context.Context) (source.Lister, error) {
	sc := a.cfg.Sources
	switch sc.Kind {
	case "local":
		return source.NewLocalLister(sc.LocalRoot, sc.LocalPaths, a.zap()), nil
	default:
		l, err := source.NewGitHubLister(ctx, source.GitHubConfig{
			Token:   sc.GitHubToken.Value(),
			BaseURL: sc.GitHubBaseURL,
		}, a.zap())
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

func (a *app) newMirror(ctx context.Context, dimension int) (mirror.Mirror, error) {
	mc := a.cfg.Mirror
	var (
		m   mirror.Mirror
		err error
	)
	switch mc.Provider {
	case "chromem":
		m, err = mirror.NewChromemMirror(mirror.ChromemConfig{
			Path:       mc.Chromem.Path,
			Compress:   mc.Chromem.Compress,
			Collection: mc.Chromem.Collection,
			Dimension:  dimension,
		}, a.zap())
	case "qdrant":
		m, err = mirror.NewQdrantMirror(ctx, mirror.QdrantConfig{
			Host:       mc.Qdrant.Host,
			Port:       mc.Qdrant.Port,
			Collection: mc.Qdrant.Collection,
			Dimension:  dimension,
			UseTLS:     mc.Qdrant.UseTLS,
			APIKey:     mc.Qdrant.APIKey.Value(),
		}, a.zap())
	default:
		return mirror.Nop{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s mirror: %w", mc.Provider, err)
	}
	a.closers = append(a.closers, m.Close)
	return m, nil
}

func (a *app) newSink() *snapshot.FileSink {
	return snapshot.NewFileSink(a.cfg.Snapshot.Dir)
}

// newPipeline wires every ingestion dependency.
func (a *app) newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	repos, err := a.repos()
	if err != nil {
		return nil, err
	}
	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}

	var lister source.Lister
	if len(repos) > 0 {
		if lister, err = a.newLister(ctx); err != nil {
			return nil, err
		}
	}

	mir, err := a.newMirror(ctx, embedder.Dimension())
	if err != nil {
		return nil, err
	}

	rc := a.cfg.Retention
	ropts := []retention.Option{
		retention.WithMirror(mir),
		retention.WithLogger(a.zap()),
		retention.WithSources(lister, repos),
	}
	engine, err := retention.NewEngine(retention.Config{
		WindowMonths:    rc.WindowMonths,
		BudgetBytes:     rc.BudgetBytes,
		SafetyMargin:    rc.SafetyMargin,
		MaxRounds:       rc.MaxRounds,
		Concurrency:     a.cfg.Sources.Concurrency,
		DeleteBatchSize: rc.DeleteBatchSize,
		RecentCommit:    rc.RecentCommit.Duration(),
		RecentQA:        rc.RecentQA.Duration(),
	}, ropts...)
	if err != nil {
		return nil, fmt.Errorf("creating retention engine: %w", err)
	}

	var scrubber pipeline.Scrubber
	if a.cfg.Sources.Scrub {
		s, err := scrub.New()
		if err != nil {
			return nil, fmt.Errorf("creating scrubber: %w", err)
		}
		scrubber = s
	}

	var qa pipeline.QASource
	if a.cfg.QA.Path != "" {
		qa = pipeline.JSONLSource{Path: a.cfg.QA.Path}
	}

	sink := a.newSink()
	sc := a.cfg.Sources
	return pipeline.New(pipeline.Config{
		Repos: repos,
		Filter: source.Filter{
			Include:     sc.Include,
			Exclude:     sc.Exclude,
			MaxFileSize: sc.MaxFileSize,
		},
		SnapshotName:          a.cfg.Snapshot.Name,
		Concurrency:           sc.Concurrency,
		MaxLines:              a.cfg.Chunking.MaxLines,
		MaxFilesPerRepo:       sc.MaxFilesPerRepo,
		InitialLookbackMonths: sc.LookbackMonths,
	}, pipeline.Deps{
		Lister:    lister,
		Embedder:  embedder,
		Scrubber:  scrubber,
		QA:        qa,
		Retention: engine,
		Exporter:  snapshot.NewExporter(sink, nil, a.zap()),
		Snapshots: sink,
		State:     state.NewFileStore(a.cfg.State.Path),
		Mirror:    mir,
		Logger:    a.zap(),
	})
}

// newStore builds the query-time store over the configured artifact.
func (a *app) newStore() *query.Store {
	qc := a.cfg.Query
	var fetcher query.Fetcher
	if qc.URL != "" {
		fetcher = query.NewHTTPFetcher(qc.URL, qc.FetchTimeout.Duration())
	} else {
		fetcher = query.FileFetcher{Path: filepath.Join(a.cfg.Snapshot.Dir, a.cfg.Snapshot.Name)}
	}
	return query.NewStore(fetcher,
		query.WithTTL(qc.TTL.Duration()),
		query.WithLogger(a.zap()),
	)
}
