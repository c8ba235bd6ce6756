package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// DefaultTopK is used when a caller passes k <= 0.
const DefaultTopK = 5

// Retriever finds the stored files most similar to a question.
type Retriever struct {
	gateway *Gateway
	store   vector.Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(gateway *Gateway, store vector.Store, metrics *observability.Metrics) *Retriever {
	return &Retriever{gateway: gateway, store: store, metrics: metrics, logger: slog.Default()}
}

// Retrieve embeds question and returns up to k matches from namespace in the
// store's order. An empty namespace yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, namespace, question string, k int) ([]vector.Match, error) {
	vec, err := r.gateway.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	return r.Query(ctx, namespace, vec, k)
}

// Query searches namespace with an already embedded query vector.
func (r *Retriever) Query(ctx context.Context, namespace string, vec []float32, k int) ([]vector.Match, error) {
	if namespace == "" {
		return nil, stageErr(StageRetrieve, ErrInvalidInput, fmt.Errorf("empty namespace"))
	}
	if k <= 0 {
		k = DefaultTopK
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageRetrieve,
		attribute.String("repoqa.namespace", namespace), attribute.Int("retrieve.k", k))
	defer span.End()
	defer r.metrics.ObserveStage(observability.StageRetrieve, time.Now())

	matches, err := r.store.Query(ctx, namespace, vec, k)
	if err != nil {
		observability.RecordError(span, err)
		return nil, stageErr(StageRetrieve, ErrRetrieval, err)
	}

	// Keys carry their namespace; anything else is dropped.
	out := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		ns, _, err := ParseKey(m.Key)
		if err != nil || ns != namespace {
			r.logger.Warn("dropping match from foreign namespace", "key", m.Key, "namespace", namespace)
			continue
		}
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	span.SetAttributes(attribute.Int("retrieve.matches", len(out)))
	return out, nil
}
