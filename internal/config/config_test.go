package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigThresholds(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Style.RepetitionProjectCount != 12 {
		t.Errorf("repetition project count default = %d, want 12", cfg.Style.RepetitionProjectCount)
	}
	if cfg.Style.RepetitionSceneCount != 3 {
		t.Errorf("repetition scene count default = %d, want 3", cfg.Style.RepetitionSceneCount)
	}
	if cfg.Style.ToneBaselineScenes != 10 {
		t.Errorf("tone baseline scenes default = %d, want 10", cfg.Style.ToneBaselineScenes)
	}
	if cfg.Extraction.MergeConfidence != 0.75 {
		t.Errorf("merge confidence default = %v, want 0.75", cfg.Extraction.MergeConfidence)
	}
	if cfg.Chunker.MinChunk >= cfg.Chunker.MaxChunk {
		t.Errorf("min chunk %d must be below max chunk %d", cfg.Chunker.MinChunk, cfg.Chunker.MaxChunk)
	}
}

func TestResolveEnvVars(t *testing.T) {
	os.Setenv("QUILL_TEST_KEY", "secret123")
	defer os.Unsetenv("QUILL_TEST_KEY")

	if got := ResolveEnvVars("${QUILL_TEST_KEY}"); got != "secret123" {
		t.Errorf("got %q, want secret123", got)
	}
	if got := ResolveEnvVars("plain-value"); got != "plain-value" {
		t.Errorf("non-reference value changed: %q", got)
	}
	if got := ResolveEnvVars(""); got != "" {
		t.Errorf("empty value changed: %q", got)
	}
	if got := ResolveEnvVars("${QUILL_MISSING_VAR}"); got != "" {
		t.Errorf("missing var should expand to empty, got %q", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("writing default config: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	content := string(data)
	for _, key := range []string{"llm:", "chunker:", "style:", "server:"} {
		if !strings.Contains(content, key) {
			t.Errorf("written config missing section %q", key)
		}
	}
}
