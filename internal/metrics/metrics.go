// Package metrics collects per-run statistics for an ingestion and renders
// them for the CLI.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// IngestRun collects statistics for a single ingestion run. Safe for
// concurrent use by ingestion workers.
type IngestRun struct {
	mu sync.Mutex

	Namespace  string         `json:"namespace"`
	Root       string         `json:"root"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Duration   time.Duration  `json:"duration_ms,omitempty"`
	Files      FileMetrics    `json:"files"`
	Skips      map[string]int `json:"skips,omitempty"`
	Stages     []StageMetrics `json:"stages"`
	Errors     []string       `json:"errors,omitempty"`

	stages map[string]*StageMetrics
}

type FileMetrics struct {
	Scanned    int `json:"scanned"`
	Upserted   int `json:"upserted"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	TotalBytes int `json:"total_bytes"`
}

type StageMetrics struct {
	Name     string        `json:"name"`
	Calls    int           `json:"calls"`
	Duration time.Duration `json:"duration_ms"`
	Errors   int           `json:"errors"`
}

// New starts tracking an ingestion run.
func New(namespace, root string) *IngestRun {
	return &IngestRun{
		Namespace: namespace,
		Root:      root,
		StartedAt: time.Now(),
		Skips:     make(map[string]int),
		stages:    make(map[string]*StageMetrics),
	}
}

// Scanned counts a file seen by the walk.
func (m *IngestRun) Scanned() {
	m.mu.Lock()
	m.Files.Scanned++
	m.mu.Unlock()
}

// Skip counts an ineligible file under reason.
func (m *IngestRun) Skip(reason string) {
	m.mu.Lock()
	m.Files.Skipped++
	m.Skips[reason]++
	m.mu.Unlock()
}

// Upserted counts a file written to the index.
func (m *IngestRun) Upserted(bytes int) {
	m.mu.Lock()
	m.Files.Upserted++
	m.Files.TotalBytes += bytes
	m.mu.Unlock()
}

// Fail counts a file that could not be ingested.
func (m *IngestRun) Fail(msg string) {
	m.mu.Lock()
	m.Files.Failed++
	m.Errors = append(m.Errors, msg)
	m.mu.Unlock()
}

// AddStage records one call of a pipeline stage.
func (m *IngestRun) AddStage(name string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[name]
	if !ok {
		s = &StageMetrics{Name: name}
		m.stages[name] = s
	}
	s.Calls++
	s.Duration += d
	if err != nil {
		s.Errors++
	}
}

// Finish marks the run as complete.
func (m *IngestRun) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.Stages = m.Stages[:0]
	for _, s := range m.stages {
		m.Stages = append(m.Stages, *s)
	}
	sort.Slice(m.Stages, func(i, j int) bool { return m.Stages[i].Name < m.Stages[j].Name })
	sort.Strings(m.Errors)
}

// PrintSummary writes a human-readable summary.
func (m *IngestRun) PrintSummary(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║        REPOQA INGEST REPORT          ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Namespace:   %-23s║\n", truncate(m.Namespace, 23))
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ FILES\n")
	fmt.Fprintf(w, "║   Scanned:     %d\n", m.Files.Scanned)
	fmt.Fprintf(w, "║   Embedded:    %d (%s)\n", m.Files.Upserted, formatBytes(m.Files.TotalBytes))
	fmt.Fprintf(w, "║   Skipped:     %d\n", m.Files.Skipped)
	for _, reason := range sortedKeys(m.Skips) {
		fmt.Fprintf(w, "║     %-12s %d\n", reason, m.Skips[reason])
	}
	fmt.Fprintf(w, "║   Failed:      %d\n", m.Files.Failed)
	if len(m.Stages) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ STAGES\n")
		for _, s := range m.Stages {
			status := "OK"
			if s.Errors > 0 {
				status = fmt.Sprintf("%d errors", s.Errors)
			}
			fmt.Fprintf(w, "║   %-10s %5d calls %8s  %s\n", s.Name, s.Calls, s.Duration.Round(time.Millisecond), status)
		}
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *IngestRun) JSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m, "", "  ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBytes(b int) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
