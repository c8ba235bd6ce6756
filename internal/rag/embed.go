package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// GatewayConfig configures the embedding gateway.
type GatewayConfig struct {
	Dimensions    int             // fixed vector length D
	MaxInputChars int             // inputs are truncated to this many characters; 0 disables
	Timeout       time.Duration   // per-call timeout
	Retry         llm.RetryConfig // applied to document embeddings only
}

// Gateway wraps an embedding capability and guarantees vectors of length D.
type Gateway struct {
	embedder llm.Embedder
	cfg      GatewayConfig
	metrics  *observability.Metrics
}

// NewGateway creates a gateway. A nil metrics is allowed.
func NewGateway(embedder llm.Embedder, cfg GatewayConfig, metrics *observability.Metrics) *Gateway {
	return &Gateway{embedder: embedder, cfg: cfg, metrics: metrics}
}

// Dimensions returns D.
func (g *Gateway) Dimensions() int { return g.cfg.Dimensions }

// EmbedDocument embeds file content for ingestion, retrying transient
// failures with bounded backoff.
func (g *Gateway) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	rc := g.cfg.Retry
	if g.cfg.Timeout > 0 {
		rc.Timeout = g.cfg.Timeout
	}
	var vec []float32
	err := llm.Retry(ctx, rc, func(ctx context.Context) error {
		v, err := g.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, embedErr(err)
	}
	return vec, nil
}

// EmbedQuery embeds a question with a single attempt; the caller is waiting.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	vec, err := g.embedOnce(ctx, text)
	if err != nil {
		return nil, embedErr(err)
	}
	return vec, nil
}

func (g *Gateway) embedOnce(ctx context.Context, text string) ([]float32, error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageEmbed)
	defer span.End()
	defer g.metrics.ObserveStage(observability.StageEmbed, time.Now())

	input := Truncate(text, g.cfg.MaxInputChars)
	span.SetAttributes(attribute.Int("embed.input_chars", len(input)))

	vecs, err := g.embedder.Embed(ctx, []string{input})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(vecs) != 1 {
		err = llm.Permanent(fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs)))
		observability.RecordError(span, err)
		return nil, err
	}
	if g.cfg.Dimensions > 0 && len(vecs[0]) != g.cfg.Dimensions {
		err = llm.Permanent(fmt.Errorf("embedder returned %d dimensions, index uses %d: %w",
			len(vecs[0]), g.cfg.Dimensions, vector.ErrDimensionMismatch))
		observability.RecordError(span, err)
		return nil, err
	}
	return vecs[0], nil
}

// embedErr classifies a gateway failure. A vector of the wrong length is a
// schema violation, everything else an embedding failure.
func embedErr(err error) *StageError {
	if errors.Is(err, vector.ErrDimensionMismatch) {
		return stageErr(StageEmbed, ErrSchemaViolation, err)
	}
	return stageErr(StageEmbed, ErrEmbeddingFailure, err)
}

// Truncate returns at most max characters of s. max <= 0 returns s.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
