// Package server hosts the HTTP API. It owns the SQLite store lifecycle:
// the database opens on Start and closes on shutdown, and the pipeline is
// rebuilt when the configuration hot-reloads.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/chunker"
	"github.com/jackzampolin/quill/internal/config"
	"github.com/jackzampolin/quill/internal/extract"
	"github.com/jackzampolin/quill/internal/pipeline"
	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/server/endpoints"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/style"
	"github.com/jackzampolin/quill/internal/svcctx"
)

// Server is the main Quill HTTP server.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger
	sqlStore   *store.SQLiteStore

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	services *svcctx.Services
	running  bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8521)
	Port string
	// ConfigManager provides configuration with hot-reload support (required)
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = cfg.ConfigManager.Get().Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = fmt.Sprintf("%d", cfg.ConfigManager.Get().Server.Port)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // full-project runs happen inline
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store, wires the pipeline, and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.configMgr.Get()
	st, err := store.NewSQLiteStore(cfg.DataDir)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("opening store: %w", err)
	}
	s.sqlStore = st
	s.logger.Info("store ready", "path", st.Path())

	s.rebuildServices(cfg)
	s.configMgr.OnChange(func(c *config.Config) {
		s.rebuildServices(c)
		s.logger.Info("pipeline rebuilt from config")
	})

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// rebuildServices assembles the LLM client and pipeline from the current
// config and swaps them in atomically under the lock.
func (s *Server) rebuildServices(cfg *config.Config) {
	llm := BuildLLMClient(cfg)
	p := pipeline.New(s.sqlStore, llm, PipelineOptions(cfg, s.logger), s.logger)

	s.mu.Lock()
	s.services = &svcctx.Services{
		Store:     s.sqlStore,
		Pipeline:  p,
		LLM:       llm,
		ConfigMgr: s.configMgr,
		Logger:    s.logger,
	}
	s.mu.Unlock()
}

// BuildLLMClient constructs the configured provider client. An empty
// provider name means heuristic-only extraction (nil client).
func BuildLLMClient(cfg *config.Config) providers.LLMClient {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	switch cfg.LLM.Provider {
	case providers.OpenRouterName:
		return providers.NewOpenRouterClient(providers.OpenRouterConfig{
			APIKey:     config.ResolveEnvVars(cfg.LLM.APIKey),
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			MaxRetries: cfg.LLM.MaxRetries,
			Timeout:    timeout,
		})
	case providers.OpenAIName:
		return providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:     config.ResolveEnvVars(cfg.LLM.APIKey),
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			MaxRetries: cfg.LLM.MaxRetries,
			Timeout:    timeout,
		})
	default:
		return nil
	}
}

// PipelineOptions maps the config onto pipeline tuning. A broken lexicon
// override logs a warning and falls back to the built-in lists.
func PipelineOptions(cfg *config.Config, logger *slog.Logger) pipeline.Options {
	opts := pipeline.DefaultOptions()
	if cfg.Chunker.MaxChunk > 0 {
		opts.Limits = chunker.Limits{
			MinChunk:    cfg.Chunker.MinChunk,
			MaxChunk:    cfg.Chunker.MaxChunk,
			LongBlock:   cfg.Chunker.LongBlock,
			SplitWindow: cfg.Chunker.SplitWindow,
		}
	}
	opts.Extraction = extract.Options{
		MergeConfidence: cfg.Extraction.MergeConfidence,
		MaxRetries:      cfg.Extraction.MaxRetries,
		Temperature:     cfg.Extraction.Temperature,
		MaxTokens:       cfg.Extraction.MaxTokens,
		Timeout:         time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}
	opts.Style = style.Options{
		ProjectCount:   cfg.Style.RepetitionProjectCount,
		SceneCount:     cfg.Style.RepetitionSceneCount,
		BaselineScenes: cfg.Style.ToneBaselineScenes,
		DriftThreshold: cfg.Style.ToneDriftThreshold,
		TicThreshold:   style.DefaultTicThreshold,
	}
	if cfg.Style.LexiconPath != "" {
		lex, err := style.LoadLexicon(cfg.Style.LexiconPath)
		if err != nil {
			if logger != nil {
				logger.Warn("lexicon override not loaded", "path", cfg.Style.LexiconPath, "error", err)
			}
		} else {
			opts.Lexicon = lex
		}
	}
	return opts
}

// shutdown performs graceful shutdown of the HTTP server and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.sqlStore != nil {
		if err := s.sqlStore.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the fully wired HTTP handler (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()

		ctx := r.Context()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and pipeline are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := s.services != nil
		s.mu.RUnlock()
		if !ready {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
