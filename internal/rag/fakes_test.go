package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efebarandurmaz/repoqa/internal/content"
	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/llm/local"
	"github.com/efebarandurmaz/repoqa/internal/vector"
	"github.com/efebarandurmaz/repoqa/internal/vector/memory"
)

const testDims = 16

// fakeEmbedder delegates to the local hashing embedder and can inject failures.
type fakeEmbedder struct {
	mu     sync.Mutex
	inner  *local.Embedder
	calls  int
	inputs []string
	fail   func(text string, call int) error
	dims   int // overrides the vector length when > 0
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{inner: local.New(testDims)}
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inputs = append(f.inputs, texts...)
	f.mu.Unlock()

	if f.fail != nil {
		for _, t := range texts {
			if err := f.fail(t, call); err != nil {
				return nil, err
			}
		}
	}
	if f.dims > 0 {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, f.dims)
			out[i][0] = 1
		}
		return out, nil
	}
	return f.inner.Embed(ctx, texts)
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCompleter records prompts and returns a canned response.
type fakeCompleter struct {
	mu      sync.Mutex
	prompts []*llm.Prompt
	opts    []*llm.RequestOptions
	content string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, p *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content, Model: "fake", InputTokens: 10, OutputTokens: 5}, nil
}

// countingStore wraps a memory store and counts upserted records.
type countingStore struct {
	*memory.Store
	mu      sync.Mutex
	upserts []string
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(testDims)}
}

func (s *countingStore) Upsert(ctx context.Context, ns string, recs []vector.Record) error {
	s.mu.Lock()
	for _, r := range recs {
		s.upserts = append(s.upserts, r.Key)
	}
	s.mu.Unlock()
	return s.Store.Upsert(ctx, ns, recs)
}

// staticStore returns fixed matches.
type staticStore struct {
	matches []vector.Match
	err     error
}

func (s *staticStore) Upsert(context.Context, string, []vector.Record) error { return nil }
func (s *staticStore) Query(context.Context, string, []float32, int) ([]vector.Match, error) {
	return s.matches, s.err
}
func (s *staticStore) Close() error { return nil }

// mapLoader serves content by key.
type mapLoader map[string]string

func (m mapLoader) Load(_ context.Context, match vector.Match) (string, error) {
	text, ok := m[match.Key]
	if !ok {
		return "", content.ErrNotFound
	}
	return text, nil
}

// fakeFetcher maps locations to local directories.
type fakeFetcher struct {
	mu      sync.Mutex
	roots   map[string]string
	got     []string
	onFetch func(namespace string)
}

func (f *fakeFetcher) Fetch(_ context.Context, location, namespace string) (string, error) {
	if f.onFetch != nil {
		f.onFetch(namespace)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, namespace)
	root, ok := f.roots[location]
	if !ok {
		return "", errors.New("clone failed: repository not found")
	}
	return root, nil
}

type pipeline struct {
	embedder  *fakeEmbedder
	completer *fakeCompleter
	store     *countingStore
	ingestor  *Ingestor
	querier   *Querier
}

func fastGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Dimensions: testDims,
		Timeout:    time.Second,
		Retry:      llm.RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func newPipeline(t *testing.T, workers int) *pipeline {
	t.Helper()
	p := &pipeline{
		embedder:  newFakeEmbedder(),
		completer: &fakeCompleter{content: "It prints a greeting."},
		store:     newCountingStore(),
	}
	gw := NewGateway(p.embedder, fastGatewayConfig(), nil)
	p.ingestor = NewIngestor(
		NewFilter(50000, []string{".py", ".js", ".go"}),
		gw,
		NewWriter(p.store, testDims, nil),
		nil,
		IngestConfig{Workers: workers, SkipDirs: []string{".git", "node_modules"}},
		nil,
	)
	p.querier = NewQuerier(
		NewRetriever(gw, p.store, nil),
		NewAssembler(content.FSLoader{}, 48000, nil),
		NewGenerator(p.completer, GeneratorConfig{Temperature: DefaultTemperature, Timeout: time.Second}, nil),
		nil,
	)
	return p
}

// writeTree creates files under a fresh temp dir.
func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func keysOf(matches []vector.Match) []string {
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.Key
	}
	return keys
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
