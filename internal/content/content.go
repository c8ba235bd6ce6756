// Package content supplies file contents to the context assembler at query
// time: from the ingested working tree, or from snapshots taken at ingest.
package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// ErrNotFound is returned when a loader has no content for a match.
var ErrNotFound = errors.New("content not found")

// Loader returns the current content of a matched file.
type Loader interface {
	Load(ctx context.Context, m vector.Match) (string, error)
}

// Saver records content at ingest time, keyed by record key.
type Saver interface {
	Save(ctx context.Context, key, content string) error
}

// Decode converts raw file bytes to text, dropping invalid UTF-8 sequences.
func Decode(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

// FSLoader re-reads files from the local directory they were ingested from.
type FSLoader struct{}

func (FSLoader) Load(ctx context.Context, m vector.Match) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Root == "" || m.Path == "" {
		return "", fmt.Errorf("%w: %s has no location", ErrNotFound, m.Key)
	}

	full := filepath.Join(m.Root, filepath.FromSlash(m.Path))
	rel, err := filepath.Rel(m.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes its root", ErrNotFound, m.Path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, m.Path)
		}
		return "", err
	}
	return Decode(data), nil
}

// Chain tries each loader in order and returns the first content found.
type Chain []Loader

func (c Chain) Load(ctx context.Context, m vector.Match) (string, error) {
	lastErr := fmt.Errorf("%w: %s", ErrNotFound, m.Key)
	for _, l := range c {
		text, err := l.Load(ctx, m)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", lastErr
}
