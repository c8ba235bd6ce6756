package rag

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/efebarandurmaz/repoqa/internal/llm"
)

func TestGenerate_SingleUserMessageWithTemperature(t *testing.T) {
	c := &fakeCompleter{content: "<think>hmm</think>\nThe answer."}
	g := NewGenerator(c, GeneratorConfig{Temperature: DefaultTemperature, MaxTokens: 256}, nil)
	prompt := &AugmentedPrompt{
		Text:     "full prompt",
		Contexts: []ContextBlock{{Key: "ns:a.py", Path: "a.py", Score: 0.9}},
	}

	ans, err := g.Generate(context.Background(), prompt)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "The answer." {
		t.Errorf("expected reasoning stripped, got %q", ans.Text)
	}
	if !reflect.DeepEqual(ans.Context, []string{"ns:a.py"}) {
		t.Errorf("unexpected context %v", ans.Context)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Score != 0.9 {
		t.Errorf("unexpected sources %+v", ans.Sources)
	}

	msgs := c.prompts[0].Messages
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser || msgs[0].Content != "full prompt" {
		t.Errorf("expected one user message with the prompt, got %+v", msgs)
	}
	if c.prompts[0].SystemPrompt != "" {
		t.Errorf("expected no system prompt, got %q", c.prompts[0].SystemPrompt)
	}
	opts := c.opts[0]
	if opts.Temperature == nil || *opts.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", opts.Temperature)
	}
	if opts.MaxTokens == nil || *opts.MaxTokens != 256 {
		t.Errorf("expected max tokens 256, got %v", opts.MaxTokens)
	}
}

func TestGenerate_FailureIsNotRetried(t *testing.T) {
	c := &fakeCompleter{err: errors.New("status 503: Service Unavailable")}
	g := NewGenerator(c, GeneratorConfig{Temperature: DefaultTemperature}, nil)

	_, err := g.Generate(context.Background(), &AugmentedPrompt{Text: "p"})
	if !errors.Is(err, ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure, got %v", err)
	}
	if len(c.prompts) != 1 {
		t.Errorf("expected a single attempt, got %d", len(c.prompts))
	}
}

func TestGenerate_EmptyCompletionIsFailure(t *testing.T) {
	for _, content := range []string{"", "   ", "<think>only thoughts</think>"} {
		c := &fakeCompleter{content: content}
		g := NewGenerator(c, GeneratorConfig{}, nil)
		if _, err := g.Generate(context.Background(), &AugmentedPrompt{Text: "p"}); !errors.Is(err, ErrGenerationFailure) {
			t.Errorf("content %q: expected ErrGenerationFailure, got %v", content, err)
		}
	}
}

func TestGenerate_EmptyContextStillAnswers(t *testing.T) {
	c := &fakeCompleter{content: "No files were found."}
	g := NewGenerator(c, GeneratorConfig{}, nil)
	ans, err := g.Generate(context.Background(), &AugmentedPrompt{Text: "p", Contexts: []ContextBlock{}})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Context == nil || len(ans.Context) != 0 {
		t.Errorf("expected empty non-nil context, got %#v", ans.Context)
	}
}
