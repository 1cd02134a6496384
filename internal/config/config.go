// Package config provides configuration loading for vecsnap.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then VECSNAP_* environment variables. See Load.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

// Config holds the complete vecsnap configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	Sources   SourcesConfig   `koanf:"sources"`
	QA        QAConfig        `koanf:"qa"`
	Retention RetentionConfig `koanf:"retention"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Query     QueryConfig     `koanf:"query"`
	Mirror    MirrorConfig    `koanf:"mirror"`
	State     StateConfig     `koanf:"state"`
	Server    ServerConfig    `koanf:"server"`
}

// LoggingConfig holds the CLI-facing logging settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
	Metrics      bool    `koanf:"metrics"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string   `koanf:"provider"` // openai, tei, fastembed
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Dimension         int      `koanf:"dimension"`
	CacheDir          string   `koanf:"cache_dir"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	Concurrency       int      `koanf:"concurrency"`
	Timeout           Duration `koanf:"timeout"`
}

// ChunkingConfig controls text splitting.
type ChunkingConfig struct {
	Encoding  string `koanf:"encoding"`
	MaxTokens int    `koanf:"max_tokens"`
	MaxLines  int    `koanf:"max_lines"`
}

// SourcesConfig lists the repositories to ingest and how to reach them.
type SourcesConfig struct {
	Kind            string            `koanf:"kind"` // github, local
	Repos           []string          `koanf:"repos"`
	GitHubToken     Secret            `koanf:"github_token"`
	GitHubBaseURL   string            `koanf:"github_base_url"`
	LocalRoot       string            `koanf:"local_root"`
	LocalPaths      map[string]string `koanf:"local_paths"`
	Include         []string          `koanf:"include"`
	Exclude         []string          `koanf:"exclude"`
	MaxFileSize     int64             `koanf:"max_file_size"`
	MaxFilesPerRepo int               `koanf:"max_files_per_repo"`
	LookbackMonths  int               `koanf:"lookback_months"`
	Concurrency     int               `koanf:"concurrency"`
	Scrub           bool              `koanf:"scrub"`
}

// QAConfig points at the recorded interaction log.
type QAConfig struct {
	Path string `koanf:"path"`
}

// RetentionConfig mirrors retention.Config.
type RetentionConfig struct {
	WindowMonths    int      `koanf:"window_months"`
	BudgetBytes     int64    `koanf:"budget_bytes"`
	SafetyMargin    float64  `koanf:"safety_margin"`
	MaxRounds       int      `koanf:"max_rounds"`
	DeleteBatchSize int      `koanf:"delete_batch_size"`
	RecentCommit    Duration `koanf:"recent_commit"`
	RecentQA        Duration `koanf:"recent_qa"`
}

// SnapshotConfig locates the published artifact.
type SnapshotConfig struct {
	Dir  string `koanf:"dir"`
	Name string `koanf:"name"`
}

// QueryConfig configures the query-time store.
type QueryConfig struct {
	// URL fetches the snapshot over HTTP(S). When empty the store reads
	// Snapshot.Dir/Snapshot.Name from disk.
	URL          string   `koanf:"url"`
	TTL          Duration `koanf:"ttl"`
	FetchTimeout Duration `koanf:"fetch_timeout"`
	DefaultK     int      `koanf:"default_k"`
}

// MirrorConfig selects the durable mirror.
type MirrorConfig struct {
	Provider string        `koanf:"provider"` // none, chromem, qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded chromem-go settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// StateConfig locates the incremental state document.
type StateConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			ServiceName:  "vecsnap",
			SamplingRate: 1.0,
			Metrics:      true,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			Burst:       1,
			Concurrency: 5,
			Timeout:     Duration(30 * time.Second),
		},
		Chunking: ChunkingConfig{
			Encoding:  "cl100k_base",
			MaxTokens: 8000,
			MaxLines:  200,
		},
		Sources: SourcesConfig{
			Kind:           "github",
			LookbackMonths: 6,
			Concurrency:    5,
			Scrub:          true,
		},
		Retention: RetentionConfig{
			WindowMonths:    6,
			SafetyMargin:    0.95,
			MaxRounds:       8,
			DeleteBatchSize: 100,
			RecentCommit:    Duration(90 * 24 * time.Hour),
			RecentQA:        Duration(30 * 24 * time.Hour),
		},
		Snapshot: SnapshotConfig{
			Dir:  "./snapshots",
			Name: "index.json.gz",
		},
		Query: QueryConfig{
			TTL:          Duration(5 * time.Minute),
			FetchTimeout: Duration(30 * time.Second),
			DefaultK:     5,
		},
		Mirror: MirrorConfig{
			Provider: "none",
			Chromem: ChromemConfig{
				Path:       "~/.local/share/vecsnap/mirror",
				Compress:   true,
				Collection: "vecsnap_items",
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "vecsnap_items",
			},
		},
		State: StateConfig{
			Path: "./state.json",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Validate checks the configuration. Every failure is a
// *failure.ConfigError naming the offending field.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return failure.NewConfigError("logging.format", fmt.Sprintf("must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return failure.NewConfigError("telemetry.endpoint", "required when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return failure.NewConfigError("telemetry.service_name", "required when telemetry is enabled")
		}
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return failure.NewConfigError("telemetry.sampling_rate", "must be in [0, 1]")
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "openai", "tei", "fastembed":
	default:
		return failure.NewConfigError("embedding.provider", fmt.Sprintf("unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		return failure.NewConfigError("embedding.dimension", "must not be negative")
	}
	if c.Embedding.Concurrency < 1 {
		return failure.NewConfigError("embedding.concurrency", "must be positive")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		return failure.NewConfigError("embedding.requests_per_second", "must not be negative")
	}

	if c.Chunking.MaxTokens < 1 {
		return failure.NewConfigError("chunking.max_tokens", "must be positive")
	}
	if c.Chunking.MaxLines < 1 {
		return failure.NewConfigError("chunking.max_lines", "must be positive")
	}

	switch c.Sources.Kind {
	case "github", "local":
	default:
		return failure.NewConfigError("sources.kind", fmt.Sprintf("must be github or local, got %q", c.Sources.Kind))
	}
	if c.Sources.Kind == "local" && c.Sources.LocalRoot == "" && len(c.Sources.LocalPaths) == 0 {
		return failure.NewConfigError("sources.local_root", "required for local sources")
	}
	if c.Sources.Concurrency < 1 {
		return failure.NewConfigError("sources.concurrency", "must be positive")
	}
	if c.Sources.MaxFileSize < 0 {
		return failure.NewConfigError("sources.max_file_size", "must not be negative")
	}

	if c.Retention.WindowMonths < 0 {
		return failure.NewConfigError("retention.window_months", "must not be negative")
	}
	if c.Retention.BudgetBytes < 0 {
		return failure.NewConfigError("retention.budget_bytes", "must not be negative")
	}
	if c.Retention.SafetyMargin <= 0 || c.Retention.SafetyMargin >= 1 {
		return failure.NewConfigError("retention.safety_margin", "must be in (0, 1)")
	}

	if c.Snapshot.Name == "" {
		return failure.NewConfigError("snapshot.name", "required")
	}
	if c.Query.URL != "" {
		u, err := url.Parse(c.Query.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return failure.NewConfigError("query.url", "must be an absolute http(s) URL")
		}
	} else if c.Snapshot.Dir == "" {
		return failure.NewConfigError("snapshot.dir", "required when query.url is not set")
	}
	if c.Query.TTL.Duration() <= 0 {
		return failure.NewConfigError("query.ttl", "must be positive")
	}

	switch c.Mirror.Provider {
	case "none", "":
	case "chromem":
		if c.Mirror.Chromem.Path == "" {
			return failure.NewConfigError("mirror.chromem.path", "required")
		}
	case "qdrant":
		if c.Mirror.Qdrant.Port < 1 || c.Mirror.Qdrant.Port > 65535 {
			return failure.NewConfigError("mirror.qdrant.port", fmt.Sprintf("invalid port %d", c.Mirror.Qdrant.Port))
		}
	default:
		return failure.NewConfigError("mirror.provider", fmt.Sprintf("unknown mirror %q", c.Mirror.Provider))
	}

	if c.State.Path == "" {
		return failure.NewConfigError("state.path", "required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return failure.NewConfigError("server.port", fmt.Sprintf("invalid port %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return failure.NewConfigError("server.shutdown_timeout", "must be positive")
	}
	return nil
}
