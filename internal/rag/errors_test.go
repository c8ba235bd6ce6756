package rag

import (
	"errors"
	"fmt"
	"testing"
)

func TestStageError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("wrapped: %w", &StageError{Stage: StageEmbed, Kind: ErrEmbeddingFailure, Path: "a.py", Err: cause})

	if !errors.Is(err, ErrEmbeddingFailure) {
		t.Error("expected kind to match")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to match")
	}
	if errors.Is(err, ErrGenerationFailure) {
		t.Error("unexpected kind match")
	}
	want := "wrapped: embed: embedding failure a.py: timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{stageErr(StageGenerate, ErrGenerationFailure, errors.New("x")), "generation_failure"},
		{fmt.Errorf("%w: bad", ErrInvalidInput), "invalid_input"},
		{&StageError{Stage: StageUpsert, Kind: ErrSchemaViolation}, "schema_violation"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := KindName(tt.err); got != tt.want {
			t.Errorf("KindName(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	if StageOf(errors.New("plain")) != "" {
		t.Error("expected empty stage for plain error")
	}
}
