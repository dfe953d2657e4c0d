// Command evanoted is the clinical documentation service: a JSON HTTP API
// that turns consultation transcripts into versioned SOAP notes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanote/evanote/internal/api"
	"github.com/evanote/evanote/internal/config"
	"github.com/evanote/evanote/internal/generate"
	"github.com/evanote/evanote/internal/health"
	"github.com/evanote/evanote/internal/observe"
	"github.com/evanote/evanote/internal/pipeline"
	"github.com/evanote/evanote/internal/resilience"
	"github.com/evanote/evanote/internal/store"
	"github.com/evanote/evanote/pkg/llm"
	"github.com/evanote/evanote/pkg/llm/anyllm"
	azurellm "github.com/evanote/evanote/pkg/llm/azure"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "evanoted: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "evanoted: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("evanoted starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"llm", cfg.LLM,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "evanoted",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("database migration failed", "err", err)
		return 1
	}
	slog.Info("database ready")

	// ── LLM provider ──────────────────────────────────────────────────────────
	provider, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err)
		return 1
	}
	modelID := cfg.LLM.ModelID()
	slog.Info("llm provider created", "model", modelID)

	// ── Pipeline ──────────────────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	gen := generate.New(provider, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	retrier := resilience.NewRetrier(3, nil)
	pl := pipeline.New(st, gen, retrier, metrics, modelID)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := api.New(st, pl, cfg.Auth, cfg.Speech)
	mux := http.NewServeMux()
	srv.Register(mux)
	health.New(
		health.Database(pool),
		health.LLM(modelID),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SpeechChanged {
			srv.SetSpeechConfig(d.NewSpeech)
			slog.Info("speech session config changed",
				"model", d.NewSpeech.Model, "language", d.NewSpeech.Language)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Serve ─────────────────────────────────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		if cfg.Server.TLS != nil {
			serveErr <- httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLMProvider constructs the generation backend named in the config.
// Azure uses the dedicated deployment-scoped client; every other backend goes
// through any-llm-go.
func buildLLMProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "azure":
		var opts []azurellm.Option
		if cfg.APIVersion != "" {
			opts = append(opts, azurellm.WithAPIVersion(cfg.APIVersion))
		}
		return azurellm.New(cfg.Endpoint, cfg.APIKey, cfg.Model, opts...)
	case "ollama":
		// Local server: BaseURL for the address, no API key.
		var opts []anyllmlib.Option
		if cfg.Endpoint != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Endpoint))
		}
		return anyllm.New("ollama", cfg.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Endpoint))
		}
		return anyllm.New(cfg.Provider, cfg.Model, opts...)
	}
}
