package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/efebarandurmaz/repoqa/internal/vector"
)

type staticLoader struct {
	text string
	err  error
}

func (s staticLoader) Load(context.Context, vector.Match) (string, error) { return s.text, s.err }

func TestFSLoader_Load(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "pkg"), 0755)
	os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\xff\n"), 0644)

	text, err := FSLoader{}.Load(context.Background(), vector.Match{Key: "ns:pkg/a.go", Root: root, Path: "pkg/a.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "package pkg\n" {
		t.Errorf("expected invalid bytes dropped, got %q", text)
	}
}

func TestFSLoader_Missing(t *testing.T) {
	_, err := FSLoader{}.Load(context.Background(), vector.Match{Root: t.TempDir(), Path: "gone.py"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSLoader_RejectsEscape(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")
	os.MkdirAll(root, 0755)
	os.WriteFile(filepath.Join(filepath.Dir(root), "secret.py"), []byte("x"), 0644)

	_, err := FSLoader{}.Load(context.Background(), vector.Match{Root: root, Path: "../secret.py"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected escape to be rejected, got %v", err)
	}
}

func TestFSLoader_NoLocation(t *testing.T) {
	if _, err := (FSLoader{}).Load(context.Background(), vector.Match{Key: "k"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChain_FirstHitWins(t *testing.T) {
	c := Chain{
		staticLoader{err: ErrNotFound},
		staticLoader{text: "second"},
		staticLoader{text: "third"},
	}
	text, err := c.Load(context.Background(), vector.Match{})
	if err != nil || text != "second" {
		t.Errorf("expected second, got %q, %v", text, err)
	}
}

func TestChain_AllMiss(t *testing.T) {
	c := Chain{staticLoader{err: ErrNotFound}, staticLoader{err: ErrNotFound}}
	if _, err := c.Load(context.Background(), vector.Match{Key: "k"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := (Chain{}).Load(context.Background(), vector.Match{Key: "k"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty chain, got %v", err)
	}
}

// TestRedisStore_Integration runs against a live Redis when REPOQA_TEST_REDIS_ADDR is set.
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REPOQA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REPOQA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if err := s.Save(ctx, "test:a.py", "print(1)"); err != nil {
		t.Fatalf("save: %v", err)
	}
	text, err := s.Load(ctx, vector.Match{Key: "test:a.py"})
	if err != nil || text != "print(1)" {
		t.Errorf("expected snapshot back, got %q, %v", text, err)
	}
	if _, err := s.Load(ctx, vector.Match{Key: "test:missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
