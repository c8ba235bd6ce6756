// Package anthropic implements llm.Completer for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/efebarandurmaz/repoqa/internal/llm"
)

const (
	defaultModel     = string(sdk.ModelClaude3_7SonnetLatest)
	defaultMaxTokens = 1024
)

// Client implements llm.Provider for the Anthropic Messages API.
type Client struct {
	model string
	api   *sdk.Client
}

// New creates an Anthropic provider. SDK-level retries are disabled so
// callers keep control over retry policy.
func New(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		// The SDK appends /v1/messages itself.
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")+"/"))
	}

	client := sdk.NewClient(opts...)
	return &Client{model: model, api: &client}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(defaultMaxTokens),
	}
	if prompt.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: prompt.SystemPrompt}}
	}
	for _, m := range prompt.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if opts != nil {
		if opts.MaxTokens != nil {
			params.MaxTokens = int64(*opts.MaxTokens)
		}
		if opts.Temperature != nil {
			params.Temperature = sdk.Float(*opts.Temperature)
		}
		if opts.TopP != nil {
			params.TopP = sdk.Float(*opts.TopP)
		}
		if len(opts.StopSeqs) > 0 {
			params.StopSequences = opts.StopSeqs
		}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Content:      text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}

func (c *Client) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic: embedding not supported, use a dedicated embedding provider")
}
