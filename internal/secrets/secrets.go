// Package secrets resolves credentials for the embedding, generation and
// vector store clients from a secrets file and the environment.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when no backend holds the secret.
var ErrNotFound = errors.New("secret not found")

// SecretKey identifies the credentials the service consumes.
type SecretKey string

const (
	SecretLLMAPIKey       SecretKey = "llm_api_key"
	SecretEmbeddingAPIKey SecretKey = "embedding_api_key"
	SecretVectorAPIKey    SecretKey = "vector_api_key"
	SecretRedisPassword   SecretKey = "redis_password"
)

// DefaultAliases lists well-known environment variables consulted after the
// prefixed name, in order.
var DefaultAliases = map[SecretKey][]string{
	SecretLLMAPIKey:       {"GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
	SecretEmbeddingAPIKey: {"OPENAI_API_KEY"},
	SecretVectorAPIKey:    {"QDRANT_API_KEY"},
	SecretRedisPassword:   {"REDIS_PASSWORD"},
}

// Provider is the interface for secret backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Name returns the provider name.
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// FilePath points at an optional JSON secrets file consulted first.
	FilePath string
	// EnvPrefix for environment variable names (default: "REPOQA_")
	EnvPrefix string
	// Aliases overrides DefaultAliases when non-nil.
	Aliases map[SecretKey][]string
}

// Manager resolves secrets from the file (when configured), then the
// environment, then well-known aliases. Found values are cached.
type Manager struct {
	providers []Provider
	aliases   map[SecretKey][]string

	cacheMu sync.RWMutex
	cache   map[string]string
}

// NewManager creates a secrets manager with the specified configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var providers []Provider
	if cfg.FilePath != "" {
		fp, err := NewFileProvider(&FileConfig{Path: cfg.FilePath})
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))

	aliases := cfg.Aliases
	if aliases == nil {
		aliases = DefaultAliases
	}

	return &Manager{
		providers: providers,
		aliases:   aliases,
		cache:     make(map[string]string),
	}, nil
}

// Get retrieves a secret, trying each provider and then the aliases.
func (m *Manager) Get(ctx context.Context, key SecretKey) (string, error) {
	m.cacheMu.RLock()
	val, ok := m.cache[string(key)]
	m.cacheMu.RUnlock()
	if ok {
		return val, nil
	}

	for _, p := range m.providers {
		if val, err := p.Get(ctx, string(key)); err == nil && val != "" {
			m.cacheSet(string(key), val)
			return val, nil
		}
	}
	for _, name := range m.aliases[key] {
		if val := os.Getenv(name); val != "" {
			m.cacheSet(string(key), val)
			return val, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// GetOrDefault retrieves a secret or returns a default value.
func (m *Manager) GetOrDefault(ctx context.Context, key SecretKey, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil {
		return defaultVal
	}
	return val
}

// Fill sets *dst to the resolved secret when *dst is empty.
func (m *Manager) Fill(ctx context.Context, key SecretKey, dst *string) {
	if *dst != "" {
		return
	}
	*dst = m.GetOrDefault(ctx, key, "")
}

// ClearCache clears the secrets cache.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.cache = make(map[string]string)
	m.cacheMu.Unlock()
}

func (m *Manager) cacheSet(key, value string) {
	m.cacheMu.Lock()
	m.cache[key] = value
	m.cacheMu.Unlock()
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "REPOQA_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: env %s", ErrNotFound, envKey)
}
