// Package mcpserver wires every collaborator package into the running
// process a single "mcprelay serve" invocation starts: the stdio JSON-RPC
// transport, the per-request operation/cancellation tracker, the three
// provider adapters, context packing, session and project-memory storage,
// and the built-in search tools, following the teacher's Services-struct
// wiring rather than package-level singletons (cmd/nexus's buildRootCmd
// closures over a constructed *gateway.Service is the shape this mirrors).
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcprelay/mcprelay/internal/compactor"
	"github.com/mcprelay/mcprelay/internal/config"
	"github.com/mcprelay/mcprelay/internal/contextpack"
	"github.com/mcprelay/mcprelay/internal/dispatch"
	"github.com/mcprelay/mcprelay/internal/dispatch/gemini"
	"github.com/mcprelay/mcprelay/internal/dispatch/grok"
	"github.com/mcprelay/mcprelay/internal/dispatch/openai"
	"github.com/mcprelay/mcprelay/internal/loiterkiller"
	"github.com/mcprelay/mcprelay/internal/observability"
	"github.com/mcprelay/mcprelay/internal/opmanager"
	"github.com/mcprelay/mcprelay/internal/projectmemory"
	"github.com/mcprelay/mcprelay/internal/redact"
	"github.com/mcprelay/mcprelay/internal/sessioncache"
	"github.com/mcprelay/mcprelay/internal/stablelist"
	"github.com/mcprelay/mcprelay/internal/toolexec"
	"github.com/mcprelay/mcprelay/internal/toolhandler"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
	"github.com/mcprelay/mcprelay/internal/workerpool"
)

// Services aggregates every long-lived collaborator a running server needs,
// so main only has to hold one value and Close it on shutdown.
type Services struct {
	Config    *config.Config
	Logger    *slog.Logger
	Ops       *opmanager.Manager
	Executor  *toolexec.Executor
	Compactor *compactor.Compactor
	Metrics   *observability.Metrics

	sessions       *sessioncache.Cache
	stable         *stablelist.Store
	memory         *projectmemory.Ledger
	tracerShutdown func(context.Context) error
}

// Build constructs every collaborator from cfg. ProjectID scopes the
// project-level memory store (e.g. the git remote or working directory
// path the CLI resolves before calling Build).
func Build(ctx context.Context, cfg *config.Config, projectID string, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := sessioncache.Open(cfg.Session.DatabasePath, cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: open session cache: %w", err)
	}
	stable, err := stablelist.Open(cfg.Session.StableListDatabasePath)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("mcpserver: open stable list: %w", err)
	}
	memory, err := projectmemory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		sessions.Close()
		stable.Close()
		return nil, fmt.Errorf("mcpserver: open project memory: %w", err)
	}

	// No provider-backed vector-store Uploader is grounded in the
	// retrieved pack (see internal/vectorstore/mock.go's doc comment), so
	// the mock uploader backs every mode today; wiring a real one is a
	// documented follow-up rather than a guess at an unverified API.
	uploader := vectorstore.NewMockUploader()
	vsManager := vectorstore.NewManager(uploader)
	vsManager.MaxProjectDocs = cfg.Memory.RolloverLimit

	if cfg.LoiterKiller.Enabled {
		lk, err := loiterkiller.New(loiterkiller.Config{
			BaseURL:            cfg.LoiterKiller.BaseURL,
			HealthCheckTimeout: cfg.LoiterKiller.HealthCheckTimeout,
			RequestTimeout:     cfg.LoiterKiller.RequestTimeout,
		})
		if err != nil {
			logger.Warn("loiter-killer client misconfigured, disabling", "error", err)
		} else {
			if err := lk.HealthCheck(ctx, cfg.LoiterKiller.HealthCheckTimeout); err != nil {
				logger.Warn("loiter-killer unreachable at startup, operations will fall back to direct provider calls", "error", err)
			}
			vsManager.Delegate = lk
		}
	}

	packer := contextpack.New(stable, vsManager, vectorstore.Owner{})

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		logger.Warn("no dispatch provider configured; every tool call will fail until at least one api key is set")
	}

	memSearcher := &projectMemorySearcher{
		Ledger:    memory,
		Stores:    vsManager,
		Searcher:  uploader,
		ProjectID: projectID,
		FanOut:    int64(cfg.Memory.SearchConcurrency),
		Timeout:   cfg.Memory.SearchTimeout,
	}
	attSearcher := &attachmentSearcher{Searcher: uploader}
	tools := toolhandler.New(memSearcher, attSearcher)
	tools.FileSearchTimeout = cfg.VectorStore.FileSearchTimeout

	redactor := redact.New(redactOptions(cfg.Redaction)...)
	pool := workerpool.New(int64(cfg.Memory.SearchConcurrency))

	executor := toolexec.New(packer, adapters, tools, sessions, redactor, pool)
	executor.MaxToolIterations = cfg.Dispatch.MaxToolIterations
	executor.Logger = logger
	executor.WriteBack = writeBackFunc(memory, vsManager, uploader, projectID, cfg.Memory.RolloverLimit)

	summarizer := &compactor.AdapterSummarizer{Adapter: pickSummarizerAdapter(adapters), Model: summarizerModel(cfg)}
	compact := compactor.New(summarizer, cfg.Session.CompactionKeepRecent)

	var tracer *observability.Tracer
	var tracerShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracer, tracerShutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			Endpoint:       cfg.Tracing.Endpoint,
			Environment:    cfg.Tracing.Environment,
			SamplingRate:   cfg.Tracing.SamplingRate,
			EnableInsecure: cfg.Tracing.EnableInsecure,
		})
	}
	ops := opmanager.New(tracer)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	return &Services{
		Config:    cfg,
		Logger:    logger,
		Ops:       ops,
		Executor:  executor,
		Compactor: compact,
		Metrics:   metrics,
		sessions:       sessions,
		stable:         stable,
		memory:         memory,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Close releases every database handle and exporter Build opened.
func (s *Services) Close() error {
	var firstErr error
	for _, closer := range []func() error{s.sessions.Close, s.stable.Close, s.memory.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildAdapters(ctx context.Context, cfg *config.Config) (map[string]dispatch.Adapter, error) {
	adapters := make(map[string]dispatch.Adapter)

	if cfg.Dispatch.OpenAI.APIKey != "" {
		a, err := openai.New(openai.Config{
			APIKey:                     cfg.Dispatch.OpenAI.APIKey,
			BaseURL:                    cfg.Dispatch.OpenAI.BaseURL,
			BackgroundThresholdSeconds: cfg.Dispatch.BackgroundThresholdSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("mcpserver: build openai adapter: %w", err)
		}
		adapters[string(sessioncache.ProviderOpenAI)] = a
	}
	if cfg.Dispatch.Gemini.APIKey != "" {
		a, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Dispatch.Gemini.APIKey})
		if err != nil {
			return nil, fmt.Errorf("mcpserver: build gemini adapter: %w", err)
		}
		adapters[string(sessioncache.ProviderGemini)] = a
	}
	if cfg.Dispatch.Grok.APIKey != "" {
		a, err := grok.New(grok.Config{APIKey: cfg.Dispatch.Grok.APIKey, BaseURL: cfg.Dispatch.Grok.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("mcpserver: build grok adapter: %w", err)
		}
		adapters[string(sessioncache.ProviderGrok)] = a
	}
	return adapters, nil
}

// pickSummarizerAdapter picks whichever adapter is configured to stand in
// for compaction's "fold older turns" LLM call; preferring OpenAI mirrors
// spec.md's examples, which default to it when more than one is available.
func pickSummarizerAdapter(adapters map[string]dispatch.Adapter) dispatch.Adapter {
	for _, name := range []string{string(sessioncache.ProviderOpenAI), string(sessioncache.ProviderGemini), string(sessioncache.ProviderGrok)} {
		if a, ok := adapters[name]; ok {
			return a
		}
	}
	return nil
}

func summarizerModel(cfg *config.Config) string {
	switch {
	case cfg.Dispatch.OpenAI.Model != "":
		return cfg.Dispatch.OpenAI.Model
	case cfg.Dispatch.Gemini.Model != "":
		return cfg.Dispatch.Gemini.Model
	case cfg.Dispatch.Grok.Model != "":
		return cfg.Dispatch.Grok.Model
	default:
		return ""
	}
}

func redactOptions(cfg config.RedactionConfig) []redact.Option {
	opts := make([]redact.Option, 0, len(cfg.ExtraPatterns))
	for i, pattern := range cfg.ExtraPatterns {
		opts = append(opts, redact.WithAdditionalPattern(fmt.Sprintf("extra_%d", i), pattern))
	}
	return opts
}

// writeBackFunc folds a completed turn's text into the project's
// "conversation" memory store, creating one if none is active yet and
// rolling it over once its doc count reaches rolloverLimit, per spec.md
// §3/§4.5's project-memory write-back and rollover contract.
func writeBackFunc(ledger *projectmemory.Ledger, vsManager *vectorstore.Manager, uploader *vectorstore.MockUploader, projectID string, rolloverLimit int) toolexec.MemoryWriteBackFunc {
	const storeType = "conversation"
	return func(ctx context.Context, sessionID, provider, text string) error {
		if text == "" {
			return nil
		}

		row, err := ledger.Active(ctx, projectID, storeType)
		if err != nil {
			if err != projectmemory.ErrNoActiveStore {
				return fmt.Errorf("writeback: load active store: %w", err)
			}
			row, err = createMemoryStore(ctx, ledger, vsManager, projectID, storeType)
			if err != nil {
				return err
			}
		}

		path := fmt.Sprintf("session-%s-turn-%d.txt", sessionID, time.Now().UnixNano())
		if _, err := uploader.UploadFile(ctx, row.VectorStoreID, path, []byte(text)); err != nil {
			return fmt.Errorf("writeback: upload: %w", err)
		}
		if err := ledger.RecordDocs(ctx, row.StoreID, 1); err != nil {
			return fmt.Errorf("writeback: record doc count: %w", err)
		}

		row.DocCount++
		if row.NeedsRollover(rolloverLimit) {
			if err := ledger.Retire(ctx, row.StoreID); err != nil {
				return fmt.Errorf("writeback: retire store: %w", err)
			}
			if _, err := createMemoryStore(ctx, ledger, vsManager, projectID, storeType); err != nil {
				return err
			}
		}
		return nil
	}
}

// createMemoryStore mints a fresh provider vector store for projectID's
// storeType and records it as the new active ledger row, named per
// spec.md §3's "project-{type}s-{N:03d}" convention (internal/
// projectmemory.Ledger.NextName).
func createMemoryStore(ctx context.Context, ledger *projectmemory.Ledger, vsManager *vectorstore.Manager, projectID, storeType string) (*projectmemory.StoreRow, error) {
	store, err := vsManager.Create(ctx, vectorstore.Owner{Kind: vectorstore.OwnerProject, ProjectID: projectID, Protected: true})
	if err != nil {
		return nil, fmt.Errorf("writeback: create store: %w", err)
	}
	row, err := ledger.Create(ctx, store.ID, projectID, storeType, store.ID)
	if err != nil {
		return nil, fmt.Errorf("writeback: record new store: %w", err)
	}
	return row, nil
}
