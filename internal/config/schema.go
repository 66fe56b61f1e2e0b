package config

// Config is the full application configuration.
// Stored at: ./config.yaml or ~/.quill/config.yaml
type Config struct {
	DataDir    string        `mapstructure:"data_dir" yaml:"data_dir"`
	LLM        LLMCfg        `mapstructure:"llm" yaml:"llm"`
	Chunker    ChunkerCfg    `mapstructure:"chunker" yaml:"chunker"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
	Style      StyleCfg      `mapstructure:"style" yaml:"style"`
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
}

// LLMCfg configures the optional language-model provider. An empty
// Provider disables the LLM extraction pass entirely.
type LLMCfg struct {
	Provider       string `mapstructure:"provider" yaml:"provider"` // "openrouter", "openai" or ""
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	Model          string `mapstructure:"model" yaml:"model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ChunkerCfg bounds chunk sizes in characters.
type ChunkerCfg struct {
	MinChunk    int `mapstructure:"min_chunk" yaml:"min_chunk"`
	MaxChunk    int `mapstructure:"max_chunk" yaml:"max_chunk"`
	LongBlock   int `mapstructure:"long_block" yaml:"long_block"`
	SplitWindow int `mapstructure:"split_window" yaml:"split_window"`
}

// ExtractionCfg configures the extraction engine.
type ExtractionCfg struct {
	MergeConfidence float64 `mapstructure:"merge_confidence" yaml:"merge_confidence"`
	MaxRetries      int     `mapstructure:"max_retries" yaml:"max_retries"` // schema-validation retries
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// StyleCfg configures style analysis thresholds.
type StyleCfg struct {
	RepetitionProjectCount int     `mapstructure:"repetition_project_count" yaml:"repetition_project_count"`
	RepetitionSceneCount   int     `mapstructure:"repetition_scene_count" yaml:"repetition_scene_count"`
	ToneBaselineScenes     int     `mapstructure:"tone_baseline_scenes" yaml:"tone_baseline_scenes"`
	ToneDriftThreshold     float64 `mapstructure:"tone_drift_threshold" yaml:"tone_drift_threshold"`
	LexiconPath            string  `mapstructure:"lexicon_path" yaml:"lexicon_path"` // optional YAML override
}

// ServerCfg configures the HTTP host boundary.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}
