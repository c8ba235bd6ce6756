package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePipeline struct {
	location, namespace, question string
	k                             int

	report *rag.IngestReport
	answer *rag.Answer
	err    error
}

func (f *fakePipeline) IngestRepository(_ context.Context, location, namespace string) (*rag.IngestReport, error) {
	f.location, f.namespace = location, namespace
	return f.report, f.err
}

func (f *fakePipeline) Ask(_ context.Context, question, namespace string, k int) (*rag.Answer, error) {
	f.question, f.namespace, f.k = question, namespace, k
	return f.answer, f.err
}

func newTestAPI(p Pipeline) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	health := NewHealthServer(nil)
	health.SetReady(true)
	return NewAPI(p, health, observability.NewMetrics(), logger).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestAPI_ProcessRepo(t *testing.T) {
	p := &fakePipeline{report: &rag.IngestReport{
		Namespace: "demo",
		Upserted:  []string{"demo:a.py"},
		Skipped:   []rag.SkippedFile{{Path: "b.png", Reason: rag.SkipExtension}},
		Failed:    []rag.FailedFile{},
	}}
	h := newTestAPI(p)

	for _, path := range []string{"/process-repo/", "/process-repo"} {
		w, body := do(t, h, http.MethodPost, path, `{"github_url":"https://github.com/acme/demo","namespace":"demo"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
		if body["status"] != "success" {
			t.Errorf("expected success, got %v", body["status"])
		}
		if body["message"] != "Repository processed: 1 files embedded, 1 skipped, 0 failed" {
			t.Errorf("unexpected message %v", body["message"])
		}
		report := body["report"].(map[string]any)
		if len(report["upserted"].([]any)) != 1 {
			t.Errorf("unexpected report %v", report)
		}
	}
	if p.location != "https://github.com/acme/demo" || p.namespace != "demo" {
		t.Errorf("pipeline got location=%q namespace=%q", p.location, p.namespace)
	}
}

func TestAPI_ProcessRepo_RepoURLAlias(t *testing.T) {
	p := &fakePipeline{report: &rag.IngestReport{Namespace: "default-namespace"}}
	h := newTestAPI(p)

	w, _ := do(t, h, http.MethodPost, "/process-repo/", `{"repo_url":"/srv/code"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if p.location != "/srv/code" || p.namespace != "" {
		t.Errorf("pipeline got location=%q namespace=%q", p.location, p.namespace)
	}
}

func TestAPI_QueryCodebase(t *testing.T) {
	p := &fakePipeline{answer: &rag.Answer{
		Text:    "It greets.",
		Context: []string{"demo:a.py"},
		Sources: []rag.ContextBlock{{Key: "demo:a.py", Path: "a.py", Score: 0.8}},
	}}
	h := newTestAPI(p)

	w, body := do(t, h, http.MethodPost, "/query-codebase/", `{"query":"what does a.py do?","namespace":"demo","top_k":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["response"] != "It greets." {
		t.Errorf("unexpected response %v", body["response"])
	}
	files := body["context_files"].([]any)
	if len(files) != 1 || files[0] != "demo:a.py" {
		t.Errorf("unexpected context_files %v", files)
	}
	if p.question != "what does a.py do?" || p.namespace != "demo" || p.k != 3 {
		t.Errorf("pipeline got %q/%q/%d", p.question, p.namespace, p.k)
	}
}

func TestAPI_QueryCodebase_EmptyContextIsList(t *testing.T) {
	p := &fakePipeline{answer: &rag.Answer{Text: "Nothing indexed.", Context: []string{}, Sources: []rag.ContextBlock{}}}
	w, _ := do(t, newTestAPI(p), http.MethodPost, "/query-codebase", `{"query":"q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"context_files":[]`) {
		t.Errorf("expected an empty list, got %s", w.Body.String())
	}
}

func TestAPI_StructuredErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		path  string
		body  string
		code  int
		kind  string
		stage string
	}{
		{"bad json", nil, "/query-codebase/", `{`, http.StatusBadRequest, "invalid_input", ""},
		{"invalid input", fmt.Errorf("%w: question is empty", rag.ErrInvalidInput), "/query-codebase/", `{}`, http.StatusBadRequest, "invalid_input", ""},
		{"embedding", &rag.StageError{Stage: rag.StageEmbed, Kind: rag.ErrEmbeddingFailure, Err: errors.New("timeout")}, "/query-codebase/", `{"query":"q"}`, http.StatusBadGateway, "embedding_failure", "embed"},
		{"generation", &rag.StageError{Stage: rag.StageGenerate, Kind: rag.ErrGenerationFailure, Err: errors.New("429")}, "/query-codebase/", `{"query":"q"}`, http.StatusBadGateway, "generation_failure", "generate"},
		{"prompt too large", &rag.StageError{Stage: rag.StageAssemble, Kind: rag.ErrPromptTooLarge}, "/query-codebase/", `{"query":"q"}`, http.StatusBadRequest, "prompt_too_large", "assemble"},
		{"clone failure", &rag.StageError{Stage: rag.StageFetch, Kind: rag.ErrSource, Err: errors.New("not found")}, "/process-repo/", `{"github_url":"x"}`, http.StatusBadGateway, "source_unavailable", "fetch"},
		{"internal", errors.New("boom"), "/process-repo/", `{"github_url":"x"}`, http.StatusInternalServerError, "internal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAPI(&fakePipeline{err: tt.err})
			w, body := do(t, h, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if body["status"] != "error" {
				t.Errorf("expected error status, got %v", body["status"])
			}
			e := body["error"].(map[string]any)
			if e["kind"] != tt.kind {
				t.Errorf("expected kind %s, got %v", tt.kind, e["kind"])
			}
			if tt.stage != "" && e["stage"] != tt.stage {
				t.Errorf("expected stage %s, got %v", tt.stage, e["stage"])
			}
			if msg, _ := e["message"].(string); msg == "" || strings.Contains(msg, "goroutine") {
				t.Errorf("unexpected message %q", msg)
			}
		})
	}
}

func TestAPI_RecoversFromPanics(t *testing.T) {
	h := newTestAPI(panicPipeline{})
	w, _ := do(t, h, http.MethodPost, "/query-codebase/", `{"query":"q"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "goroutine") {
		t.Error("stack trace leaked to caller")
	}
}

type panicPipeline struct{}

func (panicPipeline) IngestRepository(context.Context, string, string) (*rag.IngestReport, error) {
	panic("unreachable")
}
func (panicPipeline) Ask(context.Context, string, string, int) (*rag.Answer, error) {
	panic("nil store")
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	h := newTestAPI(&fakePipeline{})
	for _, path := range []string{"/health", "/ready", "/live"} {
		w, _ := do(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("expected prometheus output, got %d", w.Code)
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	h := newTestAPI(&fakePipeline{})
	req := httptest.NewRequest(http.MethodOptions, "/query-codebase/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive CORS header")
	}
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(fmt.Errorf("wrap: %w", rag.ErrRetrieval)); got != http.StatusBadGateway {
		t.Errorf("expected 502 for retrieval failure, got %d", got)
	}
	if got := StatusFor(context.Canceled); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for unknown errors, got %d", got)
	}
}
