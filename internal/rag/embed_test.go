package rag

import (
	"context"
	"errors"
	"testing"
)

func TestGateway_EmbedQueryDoesNotRetry(t *testing.T) {
	emb := newFakeEmbedder()
	emb.fail = func(string, int) error { return errors.New("status 503: Service Unavailable") }
	gw := NewGateway(emb, fastGatewayConfig(), nil)

	_, err := gw.EmbedQuery(context.Background(), "question")
	if !errors.Is(err, ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
	if StageOf(err) != StageEmbed {
		t.Errorf("expected stage embed, got %q", StageOf(err))
	}
	if n := emb.callCount(); n != 1 {
		t.Errorf("expected a single attempt at query time, got %d", n)
	}
}

func TestGateway_EmbedDocumentRetryIsBounded(t *testing.T) {
	emb := newFakeEmbedder()
	emb.fail = func(string, int) error { return errors.New("status 503: Service Unavailable") }
	gw := NewGateway(emb, fastGatewayConfig(), nil)

	_, err := gw.EmbedDocument(context.Background(), "content")
	if !errors.Is(err, ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
	if n := emb.callCount(); n != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", n)
	}
}

func TestGateway_DimensionMismatchIsNotRetried(t *testing.T) {
	emb := newFakeEmbedder()
	emb.dims = testDims + 1
	gw := NewGateway(emb, fastGatewayConfig(), nil)

	_, err := gw.EmbedDocument(context.Background(), "content")
	if !errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrEmbeddingFailure) {
		t.Fatalf("expected ErrSchemaViolation only, got %v", err)
	}
	if StageOf(err) != StageEmbed {
		t.Errorf("expected stage embed, got %q", StageOf(err))
	}
	if n := emb.callCount(); n != 1 {
		t.Errorf("expected no retry for a malformed vector, got %d calls", n)
	}
}

func TestGateway_QueryDimensionMismatch(t *testing.T) {
	emb := newFakeEmbedder()
	emb.dims = testDims - 1
	gw := NewGateway(emb, fastGatewayConfig(), nil)

	_, err := gw.EmbedQuery(context.Background(), "where is main?")
	if KindName(err) != "schema_violation" {
		t.Fatalf("expected schema_violation, got %s (%v)", KindName(err), err)
	}
}

func TestGateway_TruncatesInput(t *testing.T) {
	emb := newFakeEmbedder()
	cfg := fastGatewayConfig()
	cfg.MaxInputChars = 5
	gw := NewGateway(emb, cfg, nil)

	vec, err := gw.EmbedDocument(context.Background(), "héllo world")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != testDims {
		t.Errorf("expected %d dimensions, got %d", testDims, len(vec))
	}
	if emb.inputs[0] != "héllo" {
		t.Errorf("expected truncated input %q, got %q", "héllo", emb.inputs[0])
	}
	if gw.Dimensions() != testDims {
		t.Errorf("expected Dimensions %d, got %d", testDims, gw.Dimensions())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 3, "abc"},
		{"abc", 10, "abc"},
		{"abc", 0, "abc"},
		{"日本語テキスト", 3, "日本語"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
