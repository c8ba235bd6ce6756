// Package vector defines the namespaced vector store capability used by
// ingestion and retrieval.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// store's fixed dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one embedded source file.
type Record struct {
	Key       string
	Namespace string
	Path      string // repository-relative, '/'-separated
	Root      string // local directory Path is relative to
	Vector    []float32
}

// Match is a single similarity search result. Higher Score means more similar.
type Match struct {
	Key   string
	Score float32
	Path  string
	Root  string
}

// Store provides namespaced vector storage and similarity search.
type Store interface {
	// Upsert inserts or replaces records by key within namespace.
	Upsert(ctx context.Context, namespace string, records []Record) error
	// Query returns up to k matches from namespace, most similar first.
	// An unknown or empty namespace yields no matches and no error.
	Query(ctx context.Context, namespace string, vec []float32, k int) ([]Match, error)
	// Close releases resources.
	Close() error
}
