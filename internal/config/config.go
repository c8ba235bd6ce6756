// Package config loads service configuration from an optional YAML file, a
// .env file and REPOQA_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/secrets"
)

// ErrInvalid marks configuration that prevents startup.
var ErrInvalid = errors.New("invalid configuration")

// DefaultNamespace is used when a caller omits the namespace.
const DefaultNamespace = "default-namespace"

// DefaultExtensions is the source-file allow-list.
var DefaultExtensions = []string{
	".py", ".js", ".tsx", ".jsx", ".ipynb", ".java", ".cpp",
	".ts", ".go", ".rs", ".vue", ".swift", ".c", ".h",
}

// Config holds all application configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Namespace NamespaceConfig `mapstructure:"namespace"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Content   ContentConfig   `mapstructure:"content"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Dimensions        int           `mapstructure:"dimensions"`
	MaxInputChars     int           `mapstructure:"max_input_chars"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type NamespaceConfig struct {
	Default string `mapstructure:"default"`
}

type IngestConfig struct {
	MaxFileChars int           `mapstructure:"max_file_chars"`
	Extensions   []string      `mapstructure:"extensions"`
	SkipDirs     []string      `mapstructure:"skip_dirs"`
	Workers      int           `mapstructure:"workers"`
	Workdir      string        `mapstructure:"workdir"`
	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
}

type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

type PromptConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type ContentConfig struct {
	Snapshots     string        `mapstructure:"snapshots"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecretsConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.max_input_chars", 24000)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.retry_delay", time.Second)
	v.SetDefault("embedding.requests_per_minute", 0)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("vector.backend", "qdrant")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.api_key", "")
	v.SetDefault("vector.use_tls", false)
	v.SetDefault("vector.collection", "repoqa-code")

	v.SetDefault("namespace.default", DefaultNamespace)

	v.SetDefault("ingest.max_file_chars", 50000)
	v.SetDefault("ingest.extensions", DefaultExtensions)
	v.SetDefault("ingest.skip_dirs", []string{".git", "node_modules", "vendor"})
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.workdir", "./repos")
	v.SetDefault("ingest.clone_timeout", 5*time.Minute)

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("prompt.max_chars", 48000)

	v.SetDefault("content.snapshots", "none")
	v.SetDefault("content.redis_addr", "localhost:6379")
	v.SetDefault("content.redis_password", "")
	v.SetDefault("content.redis_db", 0)
	v.SetDefault("content.snapshot_ttl", time.Duration(0))

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("secrets.file", "")
}

// Validate checks configuration for soft issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}
	if c.Ingest.Workers > 64 {
		warnings = append(warnings, fmt.Sprintf("ingest workers %d will likely hit provider rate limits", c.Ingest.Workers))
	}
	if c.Embedding.MaxInputChars > 0 && c.Embedding.MaxInputChars < c.Ingest.MaxFileChars {
		warnings = append(warnings, fmt.Sprintf("files longer than embedding.max_input_chars (%d) are truncated before embedding", c.Embedding.MaxInputChars))
	}

	return warnings
}

// Require returns an error wrapping ErrInvalid when the configuration cannot
// serve requests: missing credentials, empty names or non-positive limits.
func (c *Config) Require() error {
	var problems []string

	if llm.RequiresAPIKey(c.Embedding.Provider) && c.Embedding.APIKey == "" {
		problems = append(problems, fmt.Sprintf("embedding provider %q requires an api key (REPOQA_EMBEDDING_API_KEY)", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "" || c.Embedding.Provider == "none" {
		problems = append(problems, "embedding.provider is required")
	}
	if llm.RequiresAPIKey(c.LLM.Provider) && c.LLM.APIKey == "" {
		problems = append(problems, fmt.Sprintf("llm provider %q requires an api key (REPOQA_LLM_API_KEY)", c.LLM.Provider))
	}
	if c.LLM.Provider == "" || c.LLM.Provider == "none" || c.LLM.Provider == "local" {
		problems = append(problems, fmt.Sprintf("llm.provider %q cannot generate answers", c.LLM.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	switch c.Vector.Backend {
	case "qdrant":
		if c.Vector.Collection == "" {
			problems = append(problems, "vector.collection is required")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown vector.backend %q (want qdrant or memory)", c.Vector.Backend))
	}
	switch c.Content.Snapshots {
	case "", "none", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown content.snapshots %q (want none or redis)", c.Content.Snapshots))
	}
	if c.Namespace.Default == "" {
		problems = append(problems, "namespace.default is required")
	}
	if c.Ingest.MaxFileChars <= 0 {
		problems = append(problems, "ingest.max_file_chars must be positive")
	}
	if len(c.Ingest.Extensions) == 0 {
		problems = append(problems, "ingest.extensions must not be empty")
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "retrieval.top_k must be positive")
	}
	if c.Prompt.MaxChars <= 0 {
		problems = append(problems, "prompt.max_chars must be positive")
	}
	if c.Embedding.Timeout <= 0 || c.LLM.Timeout <= 0 {
		problems = append(problems, "embedding.timeout and llm.timeout must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment. An empty path looks
// for ./repoqa.yaml and tolerates its absence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REPOQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("repoqa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Ingest.Extensions = normalizeExtensions(cfg.Ingest.Extensions)

	if err := cfg.resolveSecrets(context.Background()); err != nil {
		return nil, err
	}

	for _, warning := range cfg.Validate() {
		slog.Warn("config", "warning", warning)
	}

	return &cfg, nil
}

func (c *Config) resolveSecrets(ctx context.Context) error {
	aliases := map[secrets.SecretKey][]string{
		secrets.SecretLLMAPIKey:       providerEnvVars(c.LLM.Provider),
		secrets.SecretEmbeddingAPIKey: providerEnvVars(c.Embedding.Provider),
		secrets.SecretVectorAPIKey:    secrets.DefaultAliases[secrets.SecretVectorAPIKey],
		secrets.SecretRedisPassword:   secrets.DefaultAliases[secrets.SecretRedisPassword],
	}
	m, err := secrets.NewManager(&secrets.Config{FilePath: c.Secrets.File, Aliases: aliases})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	m.Fill(ctx, secrets.SecretLLMAPIKey, &c.LLM.APIKey)
	m.Fill(ctx, secrets.SecretEmbeddingAPIKey, &c.Embedding.APIKey)
	m.Fill(ctx, secrets.SecretVectorAPIKey, &c.Vector.APIKey)
	m.Fill(ctx, secrets.SecretRedisPassword, &c.Content.RedisPassword)
	return nil
}

// providerEnvVars names the conventional credential variable of a provider.
func providerEnvVars(provider string) []string {
	switch provider {
	case "groq":
		return []string{"GROQ_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY"}
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "together":
		return []string{"TOGETHER_API_KEY"}
	case "deepseek":
		return []string{"DEEPSEEK_API_KEY"}
	case "huggingface":
		return []string{"HF_TOKEN"}
	}
	return nil
}

// normalizeExtensions lowercases entries, adds a leading dot and splits
// whitespace-separated values coming from a single environment variable.
func normalizeExtensions(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range in {
		for _, ext := range strings.Fields(strings.ReplaceAll(item, ",", " ")) {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	return out
}
