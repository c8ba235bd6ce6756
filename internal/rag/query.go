package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/efebarandurmaz/repoqa/internal/observability"
)

// Querier runs the query chain: embed the question, retrieve, assemble, generate.
type Querier struct {
	retriever *Retriever
	assembler *Assembler
	generator *Generator
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewQuerier creates a querier.
func NewQuerier(r *Retriever, a *Assembler, g *Generator, m *observability.Metrics) *Querier {
	return &Querier{retriever: r, assembler: a, generator: g, metrics: m, logger: slog.Default()}
}

// Query answers question from the k most similar files in namespace. Any
// stage failure aborts the request; an empty namespace still produces an
// answer, with an empty context list.
func (q *Querier) Query(ctx context.Context, namespace, question string, k int) (ans *Answer, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if namespace == "" {
		return nil, fmt.Errorf("%w: empty namespace", ErrInvalidInput)
	}

	ctx, span := observability.StartRequestSpan(ctx, "query", namespace)
	defer span.End()
	start := time.Now()
	defer func() {
		q.metrics.RecordQuery(err)
		observability.RecordError(span, err)
	}()

	matches, err := q.retriever.Retrieve(ctx, namespace, question, k)
	if err != nil {
		return nil, err
	}
	prompt, err := q.assembler.Assemble(ctx, question, matches)
	if err != nil {
		return nil, err
	}
	ans, err = q.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	q.logger.Info("query answered",
		"namespace", namespace,
		"matches", len(matches),
		"contexts", len(ans.Context),
		"missing", len(prompt.Missing),
		"dropped", len(prompt.Dropped),
		"duration", time.Since(start),
	)
	return ans, nil
}

// Fetcher turns a repository location into a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, location, namespace string) (string, error)
}

// Service exposes the two request/response operations.
type Service struct {
	fetcher          Fetcher
	ingestor         *Ingestor
	querier          *Querier
	defaultNamespace string
	topK             int

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one per namespace, held for fetch and ingest
}

// NewService creates a service. Requests without a namespace use defaultNamespace.
func NewService(f Fetcher, in *Ingestor, q *Querier, defaultNamespace string, topK int) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		fetcher:          f,
		ingestor:         in,
		querier:          q,
		defaultNamespace: defaultNamespace,
		topK:             topK,
		locks:            make(map[string]*sync.Mutex),
	}
}

// DefaultNamespace returns the namespace used when callers omit one.
func (s *Service) DefaultNamespace() string { return s.defaultNamespace }

// Namespace resolves an optional namespace.
func (s *Service) Namespace(ns string) string {
	if ns = strings.TrimSpace(ns); ns != "" {
		return ns
	}
	return s.defaultNamespace
}

// IngestRepository fetches location and ingests it into namespace.
func (s *Service) IngestRepository(ctx context.Context, location, namespace string) (*IngestReport, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: repository location is required", ErrInvalidInput)
	}
	ns := s.Namespace(namespace)

	// A refresh or re-clone must not rewrite a tree another ingest is walking.
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	root, err := s.fetcher.Fetch(ctx, location, ns)
	if err != nil {
		return nil, stageErr(StageFetch, ErrSource, err)
	}
	return s.ingestor.Ingest(ctx, ns, root)
}

func (s *Service) lockFor(namespace string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[namespace]
	if !ok {
		l = &sync.Mutex{}
		s.locks[namespace] = l
	}
	return l
}

// Ask answers question against namespace using the top k files; k <= 0
// uses the configured default.
func (s *Service) Ask(ctx context.Context, question, namespace string, k int) (*Answer, error) {
	if k <= 0 {
		k = s.topK
	}
	return s.querier.Query(ctx, s.Namespace(namespace), question, k)
}
