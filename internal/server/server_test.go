package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackzampolin/quill/internal/config"
	"github.com/jackzampolin/quill/internal/providers"
)

func newTestManager(t *testing.T) *config.Manager {
	t.Helper()
	cm, err := config.NewManager("")
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	return cm
}

func TestRequireInitGatesUntilServicesReady(t *testing.T) {
	srv, err := New(Config{ConfigManager: newTestManager(t)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Health never requires init.
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}

	// Status does, and services are not wired before Start.
	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before init = %d", resp.StatusCode)
	}

	srv.rebuildServices(srv.configMgr.Get())
	resp, err = http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after init = %d", resp.StatusCode)
	}
}

func TestBuildLLMClientProviderSelection(t *testing.T) {
	cfg := config.DefaultConfig()
	if got := BuildLLMClient(cfg); got != nil {
		t.Fatalf("empty provider should disable the LLM pass, got %T", got)
	}

	cfg.LLM.Provider = providers.OpenRouterName
	cfg.LLM.APIKey = "test-key"
	if got := BuildLLMClient(cfg); got == nil || got.Name() != providers.OpenRouterName {
		t.Fatalf("openrouter client = %v", got)
	}

	cfg.LLM.Provider = providers.OpenAIName
	if got := BuildLLMClient(cfg); got == nil || got.Name() != providers.OpenAIName {
		t.Fatalf("openai client = %v", got)
	}
}

func TestPipelineOptionsMapsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chunker.MaxChunk = 2000
	cfg.Chunker.MinChunk = 500
	cfg.Style.ToneDriftThreshold = 3.5
	cfg.Extraction.MergeConfidence = 0.9
	cfg.LLM.TimeoutSeconds = 90

	opts := PipelineOptions(cfg, nil)
	if opts.Limits.MaxChunk != 2000 || opts.Limits.MinChunk != 500 {
		t.Fatalf("limits = %+v", opts.Limits)
	}
	if opts.Style.DriftThreshold != 3.5 {
		t.Fatalf("drift threshold = %v", opts.Style.DriftThreshold)
	}
	if opts.Extraction.MergeConfidence != 0.9 {
		t.Fatalf("merge confidence = %v", opts.Extraction.MergeConfidence)
	}
	if opts.Extraction.Timeout != 90*time.Second {
		t.Fatalf("timeout = %v", opts.Extraction.Timeout)
	}
}
