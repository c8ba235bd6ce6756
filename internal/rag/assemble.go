package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/repoqa/internal/content"
	"github.com/efebarandurmaz/repoqa/internal/observability"
	"github.com/efebarandurmaz/repoqa/internal/vector"
)

// Preamble is the fixed instruction that opens every augmented prompt.
const Preamble = "You are a senior software engineer helping students to understand their codebase. " +
	"With your knowledge and expertise and the given context, answer the following question:\n\n"

const (
	contextHeader = "Context:\n"
	blockSep      = "\n---\n"
	questionLabel = "\n\nQuestion: "
)

// ContextBlock is one file included in a prompt.
type ContextBlock struct {
	Key   string  `json:"key"`
	Path  string  `json:"path"`
	Score float32 `json:"score"`
}

// AugmentedPrompt is the bounded prompt sent to the language model.
type AugmentedPrompt struct {
	Text     string
	Contexts []ContextBlock // included, in retrieval order
	Missing  []string       // keys whose content could not be loaded
	Dropped  []string       // keys left out to respect the size ceiling
}

// Keys returns the keys of the included contexts. Never nil.
func (p *AugmentedPrompt) Keys() []string {
	keys := make([]string, 0, len(p.Contexts))
	for _, c := range p.Contexts {
		keys = append(keys, c.Key)
	}
	return keys
}

// Assembler builds augmented prompts from retrieved matches.
type Assembler struct {
	loader   content.Loader
	maxChars int
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewAssembler creates an assembler whose prompts never exceed maxChars characters.
func NewAssembler(loader content.Loader, maxChars int, metrics *observability.Metrics) *Assembler {
	return &Assembler{loader: loader, maxChars: maxChars, metrics: metrics, logger: slog.Default()}
}

// Assemble loads each match's content and joins it, highest ranked first,
// into a prompt ending with the question. Files that cannot be loaded are
// omitted. Once a block does not fit, it and every lower-ranked block are
// dropped.
func (a *Assembler) Assemble(ctx context.Context, question string, matches []vector.Match) (*AugmentedPrompt, error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageAssemble)
	defer span.End()
	defer a.metrics.ObserveStage(observability.StageAssemble, time.Now())

	used := utf8.RuneCountInString(Preamble) + utf8.RuneCountInString(contextHeader) +
		utf8.RuneCountInString(questionLabel) + utf8.RuneCountInString(question)
	if a.maxChars > 0 && used > a.maxChars {
		err := stageErr(StageAssemble, ErrPromptTooLarge,
			fmt.Errorf("question needs %d characters, ceiling is %d", used, a.maxChars))
		observability.RecordError(span, err)
		return nil, err
	}

	out := &AugmentedPrompt{Contexts: []ContextBlock{}}
	var blocks []string
	full := false
	for _, m := range matches {
		if full {
			out.Dropped = append(out.Dropped, m.Key)
			continue
		}
		text, err := a.loader.Load(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", StageAssemble, ctx.Err())
			}
			a.logger.Debug("context file unavailable", "key", m.Key, "error", err)
			out.Missing = append(out.Missing, m.Key)
			continue
		}

		block := "File: " + m.Key + "\n" + text
		cost := utf8.RuneCountInString(block)
		if len(blocks) > 0 {
			cost += utf8.RuneCountInString(blockSep)
		}
		if a.maxChars > 0 && used+cost > a.maxChars {
			full = true
			out.Dropped = append(out.Dropped, m.Key)
			continue
		}
		used += cost
		blocks = append(blocks, block)
		out.Contexts = append(out.Contexts, ContextBlock{Key: m.Key, Path: m.Path, Score: m.Score})
	}

	var b strings.Builder
	b.WriteString(Preamble)
	b.WriteString(contextHeader)
	b.WriteString(strings.Join(blocks, blockSep))
	b.WriteString(questionLabel)
	b.WriteString(question)
	out.Text = b.String()

	span.SetAttributes(
		attribute.Int("assemble.contexts", len(out.Contexts)),
		attribute.Int("assemble.missing", len(out.Missing)),
		attribute.Int("assemble.dropped", len(out.Dropped)),
		attribute.Int("assemble.chars", used),
	)
	return out, nil
}
