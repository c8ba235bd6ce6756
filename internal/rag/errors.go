package rag

import (
	"errors"
	"fmt"
)

// Error kinds. A *StageError matches its kind with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSource            = errors.New("source unavailable")
	ErrIngestionFile     = errors.New("ingestion file error")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrStore             = errors.New("vector store failure")
	ErrRetrieval         = errors.New("retrieval failure")
	ErrPromptTooLarge    = errors.New("prompt too large")
	ErrGenerationFailure = errors.New("generation failure")
)

// Pipeline stages reported in errors.
const (
	StageFetch    = "fetch"
	StageRead     = "read"
	StageFilter   = "filter"
	StageKey      = "key"
	StageEmbed    = "embed"
	StageUpsert   = "upsert"
	StageRetrieve = "retrieve"
	StageAssemble = "assemble"
	StageGenerate = "generate"
)

// StageError records where in the pipeline a failure happened.
type StageError struct {
	Stage string
	Kind  error
	Path  string // set for per-file ingestion failures
	Err   error
}

func (e *StageError) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, msg)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage string, kind error, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

var kindNames = map[error]string{
	ErrInvalidInput:      "invalid_input",
	ErrSource:            "source_unavailable",
	ErrIngestionFile:     "ingestion_file",
	ErrSchemaViolation:   "schema_violation",
	ErrEmbeddingFailure:  "embedding_failure",
	ErrStore:             "store_failure",
	ErrRetrieval:         "retrieval_failure",
	ErrPromptTooLarge:    "prompt_too_large",
	ErrGenerationFailure: "generation_failure",
}

// KindName returns a stable snake_case name for err's kind, or "internal".
func KindName(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		if name, ok := kindNames[se.Kind]; ok {
			return name
		}
	}
	for kind, name := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return "internal"
}

// StageOf returns the stage recorded in err, or "".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
