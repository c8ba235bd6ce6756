// Package memory implements vector.Store in process memory. Namespaces are
// separate maps, so a query can never see another namespace's records.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/efebarandurmaz/repoqa/internal/vector"
)

type entry struct {
	rec  vector.Record
	norm float64
}

// Store is a brute-force cosine-similarity index.
type Store struct {
	mu     sync.RWMutex
	dims   int
	spaces map[string]map[string]entry
}

// New creates an empty store. With dims == 0 the dimensionality is fixed by
// the first record written.
func New(dims int) *Store {
	return &Store{dims: dims, spaces: make(map[string]map[string]entry)}
}

// Dimensions returns the fixed dimensionality, or 0 before the first write.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	for _, r := range records {
		if dims == 0 {
			dims = len(r.Vector)
		}
		if len(r.Vector) != dims || dims == 0 {
			return fmt.Errorf("record %q has %d dimensions, want %d: %w", r.Key, len(r.Vector), dims, vector.ErrDimensionMismatch)
		}
	}
	s.dims = dims

	space, ok := s.spaces[namespace]
	if !ok {
		space = make(map[string]entry)
		s.spaces[namespace] = space
	}
	for _, r := range records {
		r.Namespace = namespace
		r.Vector = append([]float32(nil), r.Vector...)
		space[r.Key] = entry{rec: r, norm: norm(r.Vector)}
	}
	return nil
}

// Query ranks by cosine similarity. Equal scores are ordered by ascending key.
func (s *Store) Query(ctx context.Context, namespace string, vec []float32, k int) ([]vector.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	space := s.spaces[namespace]
	if len(space) == 0 {
		return nil, nil
	}
	if len(vec) != s.dims {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d: %w", len(vec), s.dims, vector.ErrDimensionMismatch)
	}

	qn := norm(vec)
	matches := make([]vector.Match, 0, len(space))
	for _, e := range space {
		matches = append(matches, vector.Match{
			Key:   e.rec.Key,
			Score: cosine(vec, qn, e.rec.Vector, e.norm),
			Path:  e.rec.Path,
			Root:  e.rec.Root,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of records stored in namespace.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spaces[namespace])
}

// Get returns the record stored under key in namespace.
func (s *Store) Get(namespace, key string) (vector.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.spaces[namespace][key]
	return e.rec, ok
}

func (s *Store) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (an * bn))
}

var _ vector.Store = (*Store)(nil)
