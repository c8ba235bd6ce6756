package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// FileConfig configures the file-based secrets provider.
type FileConfig struct {
	// Path is a flat JSON object (*.json) or a dotenv file (anything else).
	Path string
}

// FileProvider reads secrets from a mounted file, e.g. a Kubernetes secret.
// Keys are matched case-insensitively, so LLM_API_KEY in a dotenv file
// serves SecretLLMAPIKey.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider loads the secrets file. A missing file is an error.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{path: config.Path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[strings.ToLower(key)]
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// Reload re-reads the file, replacing every previously loaded value.
func (p *FileProvider) Reload() error {
	parsed, err := readSecretsFile(p.path)
	if err != nil {
		return fmt.Errorf("load secrets file %s: %w", p.path, err)
	}
	data := make(map[string]string, len(parsed))
	for k, v := range parsed {
		data[strings.ToLower(k)] = v
	}

	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}

func readSecretsFile(path string) (map[string]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return godotenv.Read(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed := make(map[string]string)
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
