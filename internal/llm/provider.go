package llm

import "context"

// Embedder turns text into fixed-length numeric vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces a completion for a prompt.
type Completer interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
}

// Provider is the interface all LLM backends must implement.
type Provider interface {
	Embedder
	Completer
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
