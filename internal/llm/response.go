package llm

// Response wraps an LLM completion result.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// Text returns the completion with reasoning blocks removed.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return StripThinkingTags(r.Content)
}
