package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/rag"
)

// Pipeline is the pair of operations the API exposes.
type Pipeline interface {
	IngestRepository(ctx context.Context, location, namespace string) (*rag.IngestReport, error)
	Ask(ctx context.Context, question, namespace string, k int) (*rag.Answer, error)
}

// IngestRequest is the body of POST /process-repo/. github_url is the
// original field name; repo_url also accepts local paths.
type IngestRequest struct {
	GithubURL string `json:"github_url"`
	RepoURL   string `json:"repo_url"`
	Namespace string `json:"namespace"`
}

// QueryRequest is the body of POST /query-codebase/.
type QueryRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace"`
	TopK      int    `json:"top_k"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

// API serves the HTTP endpoints.
type API struct {
	pipeline Pipeline
	health   *HealthServer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewAPI creates the API. health and metrics may be nil.
func NewAPI(p Pipeline, health *HealthServer, metrics *observability.Metrics, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{pipeline: p, health: health, metrics: metrics, logger: logger}
}

// Router builds the gin engine.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery(), a.requestLogger(), cors())

	for _, p := range []string{"/process-repo", "/process-repo/"} {
		r.POST(p, a.processRepo)
	}
	for _, p := range []string{"/query-codebase", "/query-codebase/"} {
		r.POST(p, a.queryCodebase)
	}

	if a.health != nil {
		r.GET("/health", gin.WrapF(a.health.HandleHealth))
		r.GET("/healthz", gin.WrapF(a.health.HandleHealth))
		r.GET("/ready", gin.WrapF(a.health.HandleReady))
		r.GET("/readyz", gin.WrapF(a.health.HandleReady))
		r.GET("/live", gin.WrapF(a.health.HandleLive))
		r.GET("/livez", gin.WrapF(a.health.HandleLive))
	}
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}
	return r
}

func (a *API) processRepo(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, errors.Join(rag.ErrInvalidInput, err))
		return
	}
	location := req.GithubURL
	if location == "" {
		location = req.RepoURL
	}

	report, err := a.pipeline.IngestRepository(c.Request.Context(), location, req.Namespace)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   report.Message(),
		"namespace": report.Namespace,
		"report":    report,
	})
}

func (a *API) queryCodebase(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, errors.Join(rag.ErrInvalidInput, err))
		return
	}

	ans, err := a.pipeline.Ask(c.Request.Context(), req.Query, req.Namespace, req.TopK)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"response":      ans.Text,
		"context_files": ans.Context,
		"sources":       ans.Sources,
	})
}

func (a *API) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	body := ErrorBody{Kind: rag.KindName(err), Stage: rag.StageOf(err), Message: err.Error()}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "path", c.FullPath(), "kind", body.Kind, "stage", body.Stage, "error", err)
	} else {
		a.logger.Info("request rejected", "path", c.FullPath(), "kind", body.Kind, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "error": body})
}

// StatusFor maps a pipeline error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidInput), errors.Is(err, rag.ErrPromptTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrEmbeddingFailure),
		errors.Is(err, rag.ErrGenerationFailure),
		errors.Is(err, rag.ErrRetrieval),
		errors.Is(err, rag.ErrSource):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

// cors allows every origin, like the original web backend.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// HTTPConfig bounds the HTTP server.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewHTTPServer wraps handler in an *http.Server.
func NewHTTPServer(cfg HTTPConfig, handler http.Handler) *http.Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
