package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/repoqa/internal/content"
	"github.com/efebarandurmaz/repoqa/internal/metrics"
	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// IngestConfig configures the repository walk.
type IngestConfig struct {
	Workers  int      // concurrent files; 1 processes files sequentially
	SkipDirs []string // directory names never descended into
}

// SkippedFile is a file that was not eligible for embedding.
type SkippedFile struct {
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
}

// FailedFile is an eligible file whose processing failed.
type FailedFile struct {
	Path  string `json:"path"`
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// IngestReport aggregates the per-file outcomes of one ingestion.
type IngestReport struct {
	Namespace string        `json:"namespace"`
	Root      string        `json:"-"`
	Upserted  []string      `json:"upserted"`
	Skipped   []SkippedFile `json:"skipped"`
	Failed    []FailedFile  `json:"failed"`

	Run *metrics.IngestRun `json:"-"`

	mu sync.Mutex
}

// Message summarizes the report for humans.
func (r *IngestReport) Message() string {
	return fmt.Sprintf("Repository processed: %d files embedded, %d skipped, %d failed",
		len(r.Upserted), len(r.Skipped), len(r.Failed))
}

func (r *IngestReport) upserted(key string, size int) {
	r.mu.Lock()
	r.Upserted = append(r.Upserted, key)
	r.mu.Unlock()
	r.Run.Upserted(size)
}

func (r *IngestReport) skipped(p string, reason SkipReason) {
	r.mu.Lock()
	r.Skipped = append(r.Skipped, SkippedFile{Path: p, Reason: reason})
	r.mu.Unlock()
	r.Run.Skip(string(reason))
}

func (r *IngestReport) failed(p string, err error) {
	f := FailedFile{Path: p, Stage: StageOf(err), Kind: KindName(err), Error: err.Error()}
	r.mu.Lock()
	r.Failed = append(r.Failed, f)
	r.mu.Unlock()
	r.Run.Fail(f.Error)
}

func (r *IngestReport) sort() {
	sort.Strings(r.Upserted)
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].Path < r.Skipped[j].Path })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].Path < r.Failed[j].Path })
}

// Ingestor runs the ingestion path over a local file tree.
type Ingestor struct {
	filter  *Filter
	gateway *Gateway
	writer  *Writer
	saver   content.Saver
	cfg     IngestConfig
	skip    map[string]bool
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewIngestor creates an ingestor. saver may be nil.
func NewIngestor(filter *Filter, gateway *Gateway, writer *Writer, saver content.Saver, cfg IngestConfig, m *observability.Metrics) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	skip := make(map[string]bool, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		skip[d] = true
	}
	return &Ingestor{
		filter:  filter,
		gateway: gateway,
		writer:  writer,
		saver:   saver,
		cfg:     cfg,
		skip:    skip,
		metrics: m,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (in *Ingestor) WithLogger(l *slog.Logger) *Ingestor {
	in.logger = l
	return in
}

// Ingest walks root and upserts every eligible file into namespace. Per-file
// problems are recorded in the report and never stop the walk; the returned
// error is reserved for invalid arguments and cancellation.
func (in *Ingestor) Ingest(ctx context.Context, namespace, root string) (*IngestReport, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: empty namespace", ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidInput, root)
	}

	ctx, span := observability.StartRequestSpan(ctx, "ingest", namespace)
	defer span.End()
	defer in.metrics.IngestStarted()()

	report := &IngestReport{
		Namespace: namespace,
		Root:      abs,
		Upserted:  []string{},
		Skipped:   []SkippedFile{},
		Failed:    []FailedFile{},
		Run:       metrics.New(namespace, abs),
	}

	var g errgroup.Group
	g.SetLimit(in.cfg.Workers)

	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(abs, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			if p == abs {
				return err
			}
			report.Run.Scanned()
			in.failFile(report, rel, &StageError{Stage: StageRead, Kind: ErrIngestionFile, Path: rel, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != abs && in.skip[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}

		report.Run.Scanned()
		if !in.filter.AllowsExtension(rel) {
			in.skipFile(report, rel, SkipExtension)
			return nil
		}
		if !d.Type().IsRegular() {
			in.skipFile(report, rel, SkipNotRegular)
			return nil
		}

		g.Go(func() error {
			in.processFile(ctx, report, namespace, abs, rel)
			return nil
		})
		return nil
	})
	_ = g.Wait()

	report.sort()
	report.Run.Finish()
	observability.RecordIngestResult(span, len(report.Upserted), len(report.Skipped), len(report.Failed))

	if walkErr != nil {
		observability.RecordError(span, walkErr)
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return report, walkErr
		}
		return report, fmt.Errorf("%w: walking %s: %v", ErrIngestionFile, root, walkErr)
	}

	in.logger.Info("ingestion finished",
		"namespace", namespace,
		"root", abs,
		"upserted", len(report.Upserted),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", report.Run.Duration,
	)
	return report, nil
}

func (in *Ingestor) skipFile(report *IngestReport, rel string, reason SkipReason) {
	in.logger.Debug("skipping file", "path", rel, "reason", reason)
	report.skipped(rel, reason)
	in.metrics.RecordFile(observability.OutcomeSkipped)
}

func (in *Ingestor) failFile(report *IngestReport, rel string, err error) {
	in.logger.Warn("file failed", "path", rel, "stage", StageOf(err), "error", err)
	report.failed(rel, err)
	in.metrics.RecordFile(observability.OutcomeFailed)
}

// processFile reads, filters, embeds and upserts a single file. The content
// is released when it returns.
func (in *Ingestor) processFile(ctx context.Context, report *IngestReport, namespace, root, rel string) {
	full := filepath.Join(root, filepath.FromSlash(rel))

	// A UTF-8 rune is at most 4 bytes, so larger files cannot pass the filter.
	if info, err := os.Stat(full); err == nil && info.Size() > int64(4*in.filter.MaxChars()) {
		in.skipFile(report, rel, SkipTooLarge)
		return
	}

	start := time.Now()
	data, err := os.ReadFile(full)
	report.Run.AddStage(StageRead, time.Since(start), err)
	if err != nil {
		in.failFile(report, rel, &StageError{Stage: StageRead, Kind: ErrIngestionFile, Path: rel, Err: err})
		return
	}
	text := content.Decode(data)

	_, span := observability.StartStageSpan(ctx, observability.StageFilter, attribute.String("file.path", rel))
	start = time.Now()
	reason := in.filter.Check(rel, text)
	in.metrics.ObserveStage(observability.StageFilter, start)
	span.SetAttributes(attribute.String("filter.reason", string(reason)))
	span.End()
	if reason != SkipNone {
		in.skipFile(report, rel, reason)
		return
	}

	key, err := Key(namespace, rel)
	if err != nil {
		in.failFile(report, rel, &StageError{Stage: StageKey, Kind: ErrIngestionFile, Path: rel, Err: err})
		return
	}
	normalized, _ := NormalizePath(rel)

	start = time.Now()
	vec, err := in.gateway.EmbedDocument(ctx, text)
	report.Run.AddStage(StageEmbed, time.Since(start), err)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			se.Path = rel
		}
		in.failFile(report, rel, err)
		return
	}

	start = time.Now()
	err = in.writer.Upsert(ctx, vector.Record{
		Key:       key,
		Namespace: namespace,
		Path:      normalized,
		Root:      root,
		Vector:    vec,
	})
	report.Run.AddStage(StageUpsert, time.Since(start), err)
	if err != nil {
		in.failFile(report, rel, err)
		return
	}

	if in.saver != nil {
		if err := in.saver.Save(ctx, key, text); err != nil {
			in.logger.Warn("content snapshot failed", "key", key, "error", err)
		}
	}

	in.logger.Debug("file upserted", "path", rel, "key", key)
	report.upserted(key, len(data))
	in.metrics.RecordFile(observability.OutcomeUpserted)
}
