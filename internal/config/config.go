package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port   string `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer key for serve mode

	Verbose   bool   `yaml:"verbose"`
	LogFormat string `yaml:"log_format"` // json | text

	// Document source
	DocumentRef  string        `yaml:"document"`
	DocsBaseURL  string        `yaml:"docs_base_url"`
	DocsToken    string        `yaml:"docs_token"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// Completion provider: openai | anthropic | gemini
	LLMProvider     string `yaml:"llm_provider"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	MaxTokens       int    `yaml:"max_tokens"`

	// Retry policy
	RetryMaxAttempts   int           `yaml:"retry_max_attempts"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor"`

	// Local fallback
	FallbackPath     string   `yaml:"fallback_path"`
	FallbackBaseDir  string   `yaml:"fallback_base_dir"`
	FallbackPatterns []string `yaml:"fallback_patterns"`

	// Snapshots
	CacheDir string `yaml:"cache_dir"`

	// Downstream card consumer
	DispatchURL    string            `yaml:"dispatch_url"`
	DispatchToken  string            `yaml:"dispatch_token"`
	DispatchDelay  time.Duration     `yaml:"dispatch_delay"`
	DispatchFields map[string]string `yaml:"dispatch_fields"` // card field -> target field ID

	// Serve mode run tracking
	MaxQueueSize   int           `yaml:"max_queue_size"`
	RunTTL         time.Duration `yaml:"run_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:      "8090",
		LogFormat: "json",

		DocsBaseURL:  "https://docs.googleapis.com/v1",
		FetchTimeout: 30 * time.Second,

		LLMProvider:    "openai",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		OpenAIModel:    "gpt-4o-mini",
		AnthropicModel: "claude-sonnet-4-5-20250929",
		GeminiModel:    "gemini-2.5-flash",
		MaxTokens:      4096,

		RetryMaxAttempts:   3,
		RetryBaseDelay:     1000 * time.Millisecond,
		RetryMaxDelay:      10000 * time.Millisecond,
		RetryBackoffFactor: 2,

		FallbackBaseDir:  ".",
		FallbackPatterns: []string{"**/*.md"},

		CacheDir: ".docards-cache",

		DispatchDelay: 1 * time.Second,

		MaxQueueSize:   16,
		RunTTL:         1 * time.Hour,
		MaxUploadBytes: 32 << 20,
	}
}

// Load builds the configuration from defaults and the environment.
func Load() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	cfg.fillZeroes()
	return cfg
}

// LoadFile overlays a YAML file between the defaults and the environment.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &Error{Field: "config", Problem: fmt.Sprintf("read %s: %v", path, err)}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &Error{Field: "config", Problem: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}
	applyEnv(&cfg)
	cfg.fillZeroes()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("DOCARDS_API_KEY", cfg.APIKey)
	cfg.Verbose = envBool("DOCARDS_VERBOSE", cfg.Verbose)
	cfg.LogFormat = envOr("DOCARDS_LOG_FORMAT", cfg.LogFormat)

	cfg.DocumentRef = envOr("DOCARDS_DOCUMENT", cfg.DocumentRef)
	cfg.DocsBaseURL = envOr("DOCS_BASE_URL", cfg.DocsBaseURL)
	cfg.DocsToken = envOr("DOCS_TOKEN", cfg.DocsToken)
	cfg.FetchTimeout = envDuration("DOCS_FETCH_TIMEOUT", cfg.FetchTimeout)

	cfg.LLMProvider = strings.ToLower(envOr("LLM_PROVIDER", cfg.LLMProvider))
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOr("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = envOr("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envOr("ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = envOr("GEMINI_MODEL", cfg.GeminiModel)
	cfg.MaxTokens = envInt("LLM_MAX_TOKENS", cfg.MaxTokens)

	cfg.RetryMaxAttempts = envInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryBaseDelay = envDuration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = envDuration("RETRY_MAX_DELAY", cfg.RetryMaxDelay)
	cfg.RetryBackoffFactor = envFloat("RETRY_BACKOFF_FACTOR", cfg.RetryBackoffFactor)

	cfg.FallbackPath = envOr("DOCARDS_FALLBACK_PATH", cfg.FallbackPath)
	cfg.FallbackBaseDir = envOr("DOCARDS_FALLBACK_DIR", cfg.FallbackBaseDir)
	if v := os.Getenv("DOCARDS_FALLBACK_PATTERNS"); v != "" {
		cfg.FallbackPatterns = splitList(v)
	}

	cfg.CacheDir = envOr("DOCARDS_CACHE_DIR", cfg.CacheDir)

	cfg.DispatchURL = envOr("DISPATCH_URL", cfg.DispatchURL)
	cfg.DispatchToken = envOr("DISPATCH_TOKEN", cfg.DispatchToken)
	cfg.DispatchDelay = envDuration("DISPATCH_DELAY", cfg.DispatchDelay)
	if v := os.Getenv("DISPATCH_FIELDS"); v != "" {
		cfg.DispatchFields = splitPairs(v)
	}

	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.RunTTL = envDuration("RUN_TTL", cfg.RunTTL)
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
}

func (c *Config) fillZeroes() {
	d := Defaults()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if len(c.FallbackPatterns) == 0 {
		c.FallbackPatterns = d.FallbackPatterns
	}
	if c.FallbackBaseDir == "" {
		c.FallbackBaseDir = d.FallbackBaseDir
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.DispatchDelay < 0 {
		c.DispatchDelay = 0
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.RunTTL <= 0 {
		c.RunTTL = d.RunTTL
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
}

// Validate checks the settings every mode needs: credentials for the selected
// completion provider and a sane retry policy.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return &Error{Field: "OPENAI_API_KEY", Problem: "is required when LLM_PROVIDER=openai"}
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return &Error{Field: "ANTHROPIC_API_KEY", Problem: "is required when LLM_PROVIDER=anthropic"}
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return &Error{Field: "GEMINI_API_KEY", Problem: "is required when LLM_PROVIDER=gemini"}
		}
	default:
		return &Error{Field: "LLM_PROVIDER", Problem: fmt.Sprintf("unknown provider %q (want openai, anthropic or gemini)", c.LLMProvider)}
	}
	if c.RetryMaxAttempts < 1 {
		return &Error{Field: "RETRY_MAX_ATTEMPTS", Problem: "must be at least 1"}
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return &Error{Field: "RETRY_BASE_DELAY", Problem: "delays must not be negative"}
	}
	if c.RetryBackoffFactor < 1 {
		return &Error{Field: "RETRY_BACKOFF_FACTOR", Problem: "must be >= 1"}
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return &Error{Field: "DOCARDS_LOG_FORMAT", Problem: fmt.Sprintf("unknown format %q", c.LogFormat)}
	}
	return nil
}

// ValidateRun adds the checks for a full pipeline run.
func (c Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DocumentRef == "" {
		return &Error{Field: "DOCARDS_DOCUMENT", Problem: "a document reference is required"}
	}
	if c.DocsToken == "" {
		return &Error{Field: "DOCS_TOKEN", Problem: "is required to read the remote document"}
	}
	return nil
}

// ValidateServe adds the checks for serve mode.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return &Error{Field: "DOCARDS_API_KEY", Problem: "is required"}
	}
	if c.DocsToken == "" {
		return &Error{Field: "DOCS_TOKEN", Problem: "is required to read remote documents"}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitPairs parses "a=b,c=d". Entries without "=" are ignored.
func splitPairs(v string) map[string]string {
	out := make(map[string]string)
	for _, p := range splitList(v) {
		k, val, ok := strings.Cut(p, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			continue
		}
		out[k] = val
	}
	return out
}
