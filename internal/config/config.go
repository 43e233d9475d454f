// Package config defines the configuration surface this server loads at
// startup: one sub-struct per subsystem, the shape the teacher's own
// internal/config.Config uses (struct-of-structs, yaml tags, Config.Load
// applying env var overrides on top of a YAML file) generalized onto the
// smaller, fixed set of subsystems this server actually has: dispatch,
// sessions, memory, vector stores, redaction, lifecycle, the loiter-killer
// client, and logging.
package config

import "time"

// Config aggregates every subsystem's configuration, loaded once at
// startup and threaded through as an explicit value (SPEC_FULL.md §9's
// "Services struct instead of singletons") rather than read from package
// globals at call sites.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Session      SessionConfig      `yaml:"session"`
	Memory       MemoryConfig       `yaml:"memory"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Redaction    RedactionConfig    `yaml:"redaction"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle"`
	LoiterKiller LoiterKillerConfig `yaml:"loiter_killer"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig holds the CLI-surfaced transport knobs. Host/Port are
// reserved for a future TCP transport per spec.md §6; the default and only
// wired transport today is stdio.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls the log/slog handler constructed at startup.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "json" (production default) or "text" (development).
	Format string `yaml:"format"`
}

// DispatchConfig configures the three provider adapters.
type DispatchConfig struct {
	OpenAI DispatchProviderConfig `yaml:"openai"`
	Gemini DispatchProviderConfig `yaml:"gemini"`
	Grok   DispatchProviderConfig `yaml:"grok"`

	// BackgroundThresholdSeconds is the per-request timeout past which the
	// OpenAI adapter dispatches in background (poll) mode instead of
	// holding a stream open, per spec.md §4.7's dispatch decision table.
	BackgroundThresholdSeconds int64 `yaml:"background_threshold_seconds"`

	// MaxToolIterations bounds the provider<->tool-call loop per turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// MockMode short-circuits every adapter and the vector-store manager
	// with synthetic responses, per spec.md §9's "preserve mock-mode
	// branches" design note; the test suite depends on this flag existing.
	MockMode bool `yaml:"mock_mode"`
}

// DispatchProviderConfig is one provider's connection details.
type DispatchProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SessionConfig configures the three per-provider session caches.
type SessionConfig struct {
	// TTL is how long an idle session's row is kept before it is treated
	// as expired, per spec.md §3's "common TTL (default: hours)".
	TTL time.Duration `yaml:"ttl"`

	// PurgeProbability is the chance (0.0-1.0) that a write triggers a
	// probabilistic sweep of expired rows, per spec.md §4.2/§4.10.
	PurgeProbability float64 `yaml:"purge_probability"`

	// DatabasePath is the sqlite file backing sessions.sqlite3, per
	// spec.md §6's persisted state layout. Empty means in-memory.
	DatabasePath string `yaml:"database_path"`

	// StableListDatabasePath is the sqlite file backing the per-session
	// inline-placement cache context packing uses for prompt-cache-stable
	// ordering (internal/stablelist).
	StableListDatabasePath string `yaml:"stable_list_database_path"`

	// CompactionKeepRecent is how many of a session's most recent turns
	// internal/compactor always keeps verbatim before folding the rest
	// into one summary turn.
	CompactionKeepRecent int `yaml:"compaction_keep_recent"`
}

// MemoryConfig configures the project-wide memory stores.
type MemoryConfig struct {
	// RolloverLimit is doc_count at which the active store for a type
	// rolls over to a new one, per spec.md §3/§4.5. Left as a config knob
	// since spec.md §9 flags the exact threshold as unspecified upstream.
	RolloverLimit int `yaml:"rollover_limit"`

	// SearchConcurrency bounds fan-out across (query x store) pairs for
	// search_project_memory, per spec.md §4.5 (semaphore of 5).
	SearchConcurrency int `yaml:"search_concurrency"`

	// SearchTimeout bounds one search_project_memory call's total
	// wall-clock time, per spec.md §4.5 ("~10s").
	SearchTimeout time.Duration `yaml:"search_timeout"`

	// DatabasePath is the sqlite file backing the stores table.
	DatabasePath string `yaml:"database_path"`
}

// VectorStoreConfig configures the context packer's inline/overflow split
// and the vector-store manager's fan-out.
type VectorStoreConfig struct {
	// InlineBudgetPercent is the fraction (0-100) of a model's context
	// window reserved for inline file content, per spec.md §4.1 (default
	// 85%).
	InlineBudgetPercent int `yaml:"inline_budget_percent"`

	// UploadConcurrency bounds how many files upload to a provider vector
	// store concurrently, per spec.md §5 (cap 20 for Gemini file search).
	UploadConcurrency int `yaml:"upload_concurrency"`

	// FileSearchTimeout bounds one file-search fan-out's total wall-clock
	// time, per spec.md §4.7 ("~3s").
	FileSearchTimeout time.Duration `yaml:"file_search_timeout"`
}

// RedactionConfig configures the secret-scrubbing filter.
type RedactionConfig struct {
	// ExtraPatterns are additional regexes applied alongside the built-in
	// secret patterns, mirroring the teacher's LogConfig.RedactPatterns.
	ExtraPatterns []string `yaml:"extra_patterns"`
}

// LifecycleConfig configures the stdio transport and signal handling.
type LifecycleConfig struct {
	// ShutdownGracePeriod bounds how long CancelAll's callers wait for
	// in-flight operations to unwind before SIGINT force-exits anyway.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// LoiterKillerConfig configures the best-effort vector-store-lifecycle
// delegate client.
type LoiterKillerConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`

	// HealthCheckTimeout bounds the startup reachability probe, per
	// spec.md §4.3/§6 ("2-10s" best-effort timeouts).
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`

	// RequestTimeout bounds each acquire/register/files/renew/cleanup call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig controls the optional Prometheus registry the CLI can
// expose over HTTP when --metrics-addr is set.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls the optional OpenTelemetry exporter opmanager
// wraps every dispatch_turn operation in. Leaving Endpoint empty (the
// default) keeps internal/observability.Tracer a no-op, matching spec.md
// §4.9's "traced but not exported unless a collector is configured" note.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	Endpoint       string  `yaml:"endpoint"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// Default returns a Config with every subsystem's documented defaults,
// the starting point Load's YAML/env overrides are applied on top of.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 0},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Dispatch: DispatchConfig{
			BackgroundThresholdSeconds: 180,
			MaxToolIterations:          8,
		},
		Session: SessionConfig{
			TTL:                    4 * time.Hour,
			PurgeProbability:       0.01,
			DatabasePath:           ".mcp-the-force/sessions.sqlite3",
			StableListDatabasePath: ".mcp-the-force/stablelist.sqlite3",
			CompactionKeepRecent:   6,
		},
		Memory: MemoryConfig{
			RolloverLimit:     2000,
			SearchConcurrency: 5,
			SearchTimeout:     10 * time.Second,
			DatabasePath:      ".mcp-the-force/memory.sqlite3",
		},
		VectorStore: VectorStoreConfig{
			InlineBudgetPercent: 85,
			UploadConcurrency:   20,
			FileSearchTimeout:   3 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			ShutdownGracePeriod: 5 * time.Second,
		},
		LoiterKiller: LoiterKillerConfig{
			Enabled:            false,
			HealthCheckTimeout: 2 * time.Second,
			RequestTimeout:     10 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName:  "mcprelay",
			SamplingRate: 1.0,
		},
	}
}
