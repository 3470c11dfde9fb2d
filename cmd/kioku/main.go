// Command kioku serves the personal memory agent over MCP stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phucnt/kioku/internal/config"
	"github.com/phucnt/kioku/internal/health"
	"github.com/phucnt/kioku/internal/markdown"
	"github.com/phucnt/kioku/internal/mcpserver"
	"github.com/phucnt/kioku/internal/observe"
	"github.com/phucnt/kioku/internal/resilience"
	"github.com/phucnt/kioku/internal/service"
	"github.com/phucnt/kioku/pkg/memory"
	"github.com/phucnt/kioku/pkg/memory/graph/falkor"
	"github.com/phucnt/kioku/pkg/memory/graph/memgraph"
	"github.com/phucnt/kioku/pkg/memory/sqlitefts"
	"github.com/phucnt/kioku/pkg/memory/vector"
	"github.com/phucnt/kioku/pkg/memory/vector/memvec"
	"github.com/phucnt/kioku/pkg/memory/vector/qdrantvec"
	"github.com/phucnt/kioku/pkg/memory/vector/sqlitevec"
	"github.com/phucnt/kioku/pkg/provider/embeddings"
	"github.com/phucnt/kioku/pkg/provider/embeddings/hashembed"
	ollamaembed "github.com/phucnt/kioku/pkg/provider/embeddings/ollama"
	"github.com/phucnt/kioku/pkg/provider/extract"
	"github.com/phucnt/kioku/pkg/provider/extract/llm"
	"github.com/phucnt/kioku/pkg/provider/extract/rules"
)

const version = "0.4.0"

// probeTimeout bounds each startup reachability check for the networked
// backends so a dead server cannot stall the whole boot.
const probeTimeout = 3 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kioku: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("kioku starting",
		"version", version,
		"memory_dir", cfg.MemoryDir,
		"data_dir", cfg.DataDir,
		"vector_mode", cfg.VectorMode,
		"timezone", cfg.Timezone,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	metricsShutdown, err := observe.InitProvider(ctx, version)
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Storage ───────────────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", cfg.DataDir, "err", err)
		return 1
	}

	log, err := markdown.NewLog(cfg.MemoryDir)
	if err != nil {
		slog.Error("failed to open memory log", "dir", cfg.MemoryDir, "err", err)
		return 1
	}

	kw, err := sqlitefts.Open(cfg.KeywordDBPath())
	if err != nil {
		slog.Error("failed to open keyword index", "path", cfg.KeywordDBPath(), "err", err)
		return 1
	}
	defer kw.Close()

	// ── Backends with fallbacks ───────────────────────────────────────────────
	emb := observe.InstrumentEmbedder(buildEmbedder(ctx, cfg, metrics), metrics)
	backend, err := buildVectorBackend(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to open vector backend", "mode", cfg.VectorMode, "err", err)
		return 1
	}
	vix := vector.New(backend, emb)
	defer vix.Close()

	gix := buildGraph(ctx, cfg, metrics)
	defer gix.Close()

	ex := buildExtractor(cfg)

	svc := service.New(log, kw, vix, gix, ex,
		service.WithLocation(cfg.Location()),
		service.WithMetrics(metrics),
	)

	// ── Health and metrics listener ───────────────────────────────────────────
	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		checks := health.New(
			health.CountChecker("keyword", false, kw.Count),
			health.CountChecker("vector", true, vix.Count),
			health.Checker{Name: "graph", Optional: true, Check: func(ctx context.Context) error {
				_, err := gix.CanonicalEntities(ctx, 1)
				return err
			}},
		)
		mux := http.NewServeMux()
		checks.Register(mux)
		mux.Handle("/metrics", promhttp.Handler())

		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		go func() {
			slog.Info("http listener started", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http listener error", "err", err)
			}
		}()
	}

	// ── MCP stdio server ──────────────────────────────────────────────────────
	slog.Info("serving MCP on stdio")
	server := mcpserver.New(svc, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend construction ──────────────────────────────────────────────────────

// buildEmbedder picks the embedding backend once at startup. Per-call
// fallback would mix vectors from different models in one index, so the
// choice is pinned for the lifetime of the process: Ollama when it answers
// a probe, the deterministic hash embedder otherwise.
func buildEmbedder(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) embeddings.Embedder {
	ol, err := ollamaembed.New(cfg.OllamaHost, cfg.OllamaModel)
	if err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if _, probeErr := ol.Embed(probeCtx, "ping"); probeErr == nil {
			slog.Info("embedder selected", "provider", "ollama", "model", cfg.OllamaModel)
			return ol
		} else {
			err = probeErr
		}
	}
	slog.Warn("ollama unreachable, falling back to hash embeddings", "host", cfg.OllamaHost, "err", err)
	metrics.RecordFallback(ctx, "embedder", "hash")
	return hashembed.New()
}

// buildVectorBackend opens the ANN store for the configured mode. Auto mode
// walks server, embedded, ephemeral and keeps the first that opens.
func buildVectorBackend(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (vector.Backend, error) {
	openServer := func() (vector.Backend, error) {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		return qdrantvec.Open(probeCtx, cfg.VectorHost, cfg.VectorPort, cfg.CollectionName())
	}
	openEmbedded := func() (vector.Backend, error) {
		if err := os.MkdirAll(cfg.VectorDir(), 0o755); err != nil {
			return nil, err
		}
		return sqlitevec.Open(filepath.Join(cfg.VectorDir(), "vectors.db"))
	}

	switch cfg.VectorMode {
	case config.VectorServer:
		return openServer()
	case config.VectorEmbedded:
		return openEmbedded()
	case config.VectorEphemeral:
		return memvec.New(), nil
	}

	// Auto.
	if b, err := openServer(); err == nil {
		slog.Info("vector backend selected", "backend", "qdrant", "host", cfg.VectorHost)
		return b, nil
	} else {
		slog.Warn("qdrant unreachable, trying embedded store", "host", cfg.VectorHost, "err", err)
		metrics.RecordFallback(ctx, "vector", "embedded")
	}
	if b, err := openEmbedded(); err == nil {
		slog.Info("vector backend selected", "backend", "sqlite", "dir", cfg.VectorDir())
		return b, nil
	} else {
		slog.Warn("embedded vector store failed, keeping vectors in memory", "err", err)
		metrics.RecordFallback(ctx, "vector", "ephemeral")
	}
	return memvec.New(), nil
}

// buildGraph connects to FalkorDB, falling back to the in-process graph
// when the server does not answer the connection ping.
func buildGraph(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) memory.GraphIndex {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	g, err := falkor.Open(probeCtx, cfg.FalkorHost, cfg.FalkorPort, cfg.GraphName())
	if err == nil {
		slog.Info("graph backend selected", "backend", "falkordb", "addr", cfg.FalkorAddr(), "graph", cfg.GraphName())
		return g
	}
	slog.Warn("falkordb unreachable, keeping graph in memory", "addr", cfg.FalkorAddr(), "err", err)
	metrics.RecordFallback(ctx, "graph", "memory")
	return memgraph.New()
}

// buildExtractor assembles the extraction ladder: the configured LLM first,
// the rule-based extractor as the rung of last resort. Extraction is
// stateless so the ladder is walked on every call.
func buildExtractor(cfg *config.Config) extract.Extractor {
	providerName := cfg.ExtractProvider
	var opts []anyllmlib.Option
	if cfg.AnthropicAPIKey != "" {
		providerName = "anthropic"
		opts = append(opts, anyllmlib.WithAPIKey(cfg.AnthropicAPIKey))
	} else if providerName == "ollama" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.OllamaHost))
	}

	primary, err := llm.New(providerName, cfg.ExtractModel, opts...)
	if err != nil {
		slog.Warn("llm extractor unavailable, using rule-based extraction only", "provider", providerName, "err", err)
		return rules.New()
	}

	ladder := resilience.NewLadder[extract.Extractor](providerName, primary, resilience.BreakerConfig{})
	ladder.Add("rules", rules.New())
	slog.Info("extractor ladder assembled", "rungs", ladder.Names())
	return &ladderExtractor{ladder: ladder}
}

// ladderExtractor adapts a resilience ladder to the Extractor interface.
type ladderExtractor struct {
	ladder *resilience.Ladder[extract.Extractor]
}

func (le *ladderExtractor) Extract(ctx context.Context, text string, contextEntities []memory.GraphNode, processingDate string) (memory.Extraction, error) {
	return resilience.Do(le.ladder, func(ex extract.Extractor) (memory.Extraction, error) {
		return ex.Extract(ctx, text, contextEntities, processingDate)
	})
}
