package config

// DefaultConfig returns the built-in defaults. Thresholds mirror the
// documented analysis defaults; tune via config.yaml, not code.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // empty means ~/.quill/data
		LLM: LLMCfg{
			Provider:       "",
			APIKey:         "${OPENROUTER_API_KEY}",
			MaxRetries:     3,
			TimeoutSeconds: 60,
		},
		Chunker: ChunkerCfg{
			MinChunk:    400,
			MaxChunk:    1600,
			LongBlock:   2400,
			SplitWindow: 120,
		},
		Extraction: ExtractionCfg{
			MergeConfidence: 0.75,
			MaxRetries:      2,
			Temperature:     0.1,
			MaxTokens:       4096,
		},
		Style: StyleCfg{
			RepetitionProjectCount: 12,
			RepetitionSceneCount:   3,
			ToneBaselineScenes:     10,
			ToneDriftThreshold:     2.5,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8521,
		},
	}
}
