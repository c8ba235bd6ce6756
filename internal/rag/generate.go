package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/efebarandurmaz/repoqa/internal/llm"
	"github.com/efebarandurmaz/repoqa/internal/observability"
)

// DefaultTemperature is the sampling temperature for answers.
const DefaultTemperature = 0.7

// GeneratorConfig configures answer generation.
type GeneratorConfig struct {
	Provider    string // for span attributes
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Answer is generated text plus its provenance.
type Answer struct {
	Text    string         `json:"response"`
	Context []string       `json:"context_files"` // keys used, never nil
	Sources []ContextBlock `json:"sources"`
}

// Generator sends augmented prompts to a language model. It never retries.
type Generator struct {
	completer llm.Completer
	cfg       GeneratorConfig
	metrics   *observability.Metrics
}

// NewGenerator creates a generator.
func NewGenerator(completer llm.Completer, cfg GeneratorConfig, metrics *observability.Metrics) *Generator {
	return &Generator{completer: completer, cfg: cfg, metrics: metrics}
}

// Generate completes prompt as a single user message.
func (g *Generator) Generate(ctx context.Context, prompt *AugmentedPrompt) (*Answer, error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageGenerate)
	defer span.End()
	defer g.metrics.ObserveStage(observability.StageGenerate, time.Now())

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	temp := g.cfg.Temperature
	opts := &llm.RequestOptions{Temperature: &temp}
	if g.cfg.MaxTokens > 0 {
		maxTokens := g.cfg.MaxTokens
		opts.MaxTokens = &maxTokens
	}

	resp, err := g.completer.Complete(ctx, llm.UserPrompt(prompt.Text), opts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, stageErr(StageGenerate, ErrGenerationFailure, err)
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	observability.RecordLLMUsage(span, g.cfg.Provider, g.cfg.Model, resp.InputTokens, resp.OutputTokens)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		err := stageErr(StageGenerate, ErrGenerationFailure, errors.New("model returned an empty completion"))
		observability.RecordError(span, err)
		return nil, err
	}

	return &Answer{
		Text:    text,
		Context: prompt.Keys(),
		Sources: append([]ContextBlock{}, prompt.Contexts...),
	}, nil
}
