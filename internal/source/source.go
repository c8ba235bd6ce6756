// Package source turns a repository location into a local directory tree.
// Remote URLs are cloned with the git binary, one working copy per
// namespace; local directories are used in place.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Config configures the resolver.
type Config struct {
	Workdir string        // clone root
	Timeout time.Duration // per git command
}

// Resolver fetches repositories.
type Resolver struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a resolver. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.Workdir == "" {
		cfg.Workdir = "./repos"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// IsRemote reports whether location must be cloned.
func IsRemote(location string) bool {
	for _, prefix := range []string{"http://", "https://", "ssh://", "git://", "file://", "git@"} {
		if strings.HasPrefix(location, prefix) {
			return true
		}
	}
	return false
}

// Fetch returns a local directory holding location's files. A remote
// repository is cloned into <workdir>/<namespace-slug>; an existing clone of
// the same URL is refreshed, and a clone of a different URL is replaced.
func (r *Resolver) Fetch(ctx context.Context, location, namespace string) (string, error) {
	if !IsRemote(location) {
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("repository %s: %w", location, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("repository %s is not a directory", location)
		}
		return abs, nil
	}

	dir, err := filepath.Abs(filepath.Join(r.cfg.Workdir, Slug(namespace)))
	if err != nil {
		return "", err
	}

	lock := r.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		origin, err := r.git(ctx, dir, "remote", "get-url", "origin")
		if err == nil && strings.TrimSpace(origin) == location {
			if _, err := r.git(ctx, dir, "pull", "--ff-only"); err != nil {
				r.logger.Warn("refresh failed, using existing clone", "dir", dir, "error", err)
			} else {
				r.logger.Info("repository refreshed", "location", location, "dir", dir)
			}
			return dir, nil
		}
		r.logger.Info("replacing clone of a different repository", "dir", dir, "previous", strings.TrimSpace(origin))
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", fmt.Errorf("creating workdir: %w", err)
	}

	start := time.Now()
	if _, err := r.git(ctx, "", "clone", "--depth", "1", location, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	r.logger.Info("repository cloned", "location", location, "dir", dir, "duration", time.Since(start))
	return dir, nil
}

func (r *Resolver) lockFor(dir string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		r.locks[dir] = l
	}
	return l
}

func (r *Resolver) git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s timed out after %s", args[0], r.cfg.Timeout)
		}
		return "", fmt.Errorf("git %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Slug derives a directory name from a namespace: its safe characters plus
// a short hash so distinct namespaces never share a directory.
func Slug(namespace string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(namespace) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	return fmt.Sprintf("%s-%08x", strings.Trim(b.String(), "-"), uint32(xxhash.Sum64String(namespace)))
}
