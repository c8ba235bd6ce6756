package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// Writer upserts records into the vector store after checking their
// dimensionality.
type Writer struct {
	store   vector.Store
	dims    int
	metrics *observability.Metrics
}

// NewWriter creates an index writer for vectors of length dims.
func NewWriter(store vector.Store, dims int, metrics *observability.Metrics) *Writer {
	return &Writer{store: store, dims: dims, metrics: metrics}
}

// Upsert writes one record. Writing the same key again overwrites it.
func (w *Writer) Upsert(ctx context.Context, rec vector.Record) error {
	if len(rec.Vector) != w.dims {
		return &StageError{
			Stage: StageUpsert,
			Kind:  ErrSchemaViolation,
			Path:  rec.Path,
			Err:   fmt.Errorf("vector has %d dimensions, index uses %d", len(rec.Vector), w.dims),
		}
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageUpsert)
	defer span.End()
	defer w.metrics.ObserveStage(observability.StageUpsert, time.Now())

	if err := w.store.Upsert(ctx, rec.Namespace, []vector.Record{rec}); err != nil {
		observability.RecordError(span, err)
		kind := ErrStore
		if errors.Is(err, vector.ErrDimensionMismatch) {
			kind = ErrSchemaViolation
		}
		return &StageError{Stage: StageUpsert, Kind: kind, Path: rec.Path, Err: err}
	}
	return nil
}
