// Package config builds the immutable configuration passed into every
// component constructor. Values come from an optional .env file, the
// process environment, and an optional YAML file, in that order of
// increasing precedence for the YAML overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the production deployment values.
const (
	DefaultMaxIterations         = 15
	DefaultMaxCommandRetries     = 3
	DefaultMaxHypothesisAttempts = 8
	DefaultCommandTimeout        = 30 * time.Minute
	DefaultStorageThreshold      = 250000
	DefaultSessionsBaseDir       = ".sessions"
	DefaultProvider              = "openai"
	DefaultRetrievalTopK         = 5
)

// Config is constructed once at startup and never mutated afterwards.
type Config struct {
	// Oracle provider: openai, azure, ollama, bedrock.
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	AzureAPIVer string `yaml:"azure_api_version"`
	BedrockID   string `yaml:"bedrock_model_id"`
	AWSRegion   string `yaml:"aws_region"`

	// Optional static AWS credentials for Bedrock; the default
	// credential chain applies when unset.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`

	// Embeddings for evidence retrieval.
	UseEmbeddings  bool   `yaml:"use_embeddings"`
	EmbedProvider  string `yaml:"embed_provider"`
	EmbedModel     string `yaml:"embed_model"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`

	// Debugger.
	CdbPath        string        `yaml:"cdb_path"`
	SymbolPath     string        `yaml:"symbol_path"`
	CommandTimeout time.Duration `yaml:"-"`

	// CommandTimeoutSeconds is the YAML-facing form of CommandTimeout.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`

	// Engine bounds.
	MaxIterations         int `yaml:"max_iterations"`
	MaxCommandRetries     int `yaml:"max_command_retries"`
	MaxHypothesisAttempts int `yaml:"max_hypothesis_attempts"`
	RetrievalTopK         int `yaml:"retrieval_top_k"`

	// Evidence storage.
	StorageThreshold int    `yaml:"evidence_storage_threshold"`
	SessionsBaseDir  string `yaml:"sessions_base_dir"`

	// Redaction.
	RedactPatternsFile string `yaml:"redact_patterns_file"`
}

// Load assembles the Config. A .env file in the working directory is
// loaded first if present, then environment variables, then the YAML
// file at yamlPath when non-empty.
func Load(yamlPath string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := &Config{
		Provider:              envOr("DUMPSLEUTH_PROVIDER", DefaultProvider),
		Model:                 os.Getenv("DUMPSLEUTH_MODEL"),
		APIKey:                os.Getenv("DUMPSLEUTH_API_KEY"),
		BaseURL:               os.Getenv("DUMPSLEUTH_BASE_URL"),
		AzureAPIVer:           os.Getenv("AZURE_OPENAI_API_VERSION"),
		BedrockID:             os.Getenv("DUMPSLEUTH_BEDROCK_MODEL_ID"),
		AWSRegion:             os.Getenv("AWS_REGION"),
		AWSAccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		EmbedProvider:         os.Getenv("DUMPSLEUTH_EMBED_PROVIDER"),
		EmbedModel:            os.Getenv("DUMPSLEUTH_EMBED_MODEL"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		OllamaEndpoint:        envOr("OLLAMA_ENDPOINT", "http://localhost:11434"),
		CdbPath:               envOr("DUMPSLEUTH_CDB_PATH", "cdb"),
		SymbolPath:            os.Getenv("DUMPSLEUTH_SYMBOL_PATH"),
		CommandTimeout:        DefaultCommandTimeout,
		MaxIterations:         envInt("DUMPSLEUTH_MAX_ITERATIONS", DefaultMaxIterations),
		MaxCommandRetries:     envInt("DUMPSLEUTH_MAX_COMMAND_RETRIES", DefaultMaxCommandRetries),
		MaxHypothesisAttempts: envInt("DUMPSLEUTH_MAX_HYPOTHESIS_ATTEMPTS", DefaultMaxHypothesisAttempts),
		RetrievalTopK:         DefaultRetrievalTopK,
		StorageThreshold:      envInt("DUMPSLEUTH_STORAGE_THRESHOLD", DefaultStorageThreshold),
		SessionsBaseDir:       envOr("DUMPSLEUTH_SESSIONS_DIR", DefaultSessionsBaseDir),
		RedactPatternsFile:    os.Getenv("DUMPSLEUTH_REDACT_PATTERNS"),
	}
	cfg.UseEmbeddings = os.Getenv("DUMPSLEUTH_USE_EMBEDDINGS") == "true"
	if secs := envInt("DUMPSLEUTH_COMMAND_TIMEOUT", 0); secs > 0 {
		cfg.CommandTimeout = time.Duration(secs) * time.Second
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if cfg.CommandTimeoutSeconds > 0 {
		cfg.CommandTimeout = time.Duration(cfg.CommandTimeoutSeconds) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai", "azure", "ollama", "bedrock":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("config: max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxCommandRetries < 0 {
		return fmt.Errorf("config: max_command_retries must be non-negative, got %d", c.MaxCommandRetries)
	}
	if c.StorageThreshold <= 0 {
		return fmt.Errorf("config: evidence_storage_threshold must be positive, got %d", c.StorageThreshold)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("config: command_timeout must be positive")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
