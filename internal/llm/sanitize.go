package llm

import "strings"

// reasoningTags are the wrappers reasoning models put around their
// chain of thought (deepseek-r1 and qwen3 on Groq, Ollama, Together).
var reasoningTags = []string{"think", "thinking", "reasoning"}

// StripThinkingTags removes reasoning blocks from model output. An unclosed
// block swallows the rest of the text.
func StripThinkingTags(s string) string {
	for _, tag := range reasoningTags {
		open, closing := "<"+tag+">", "</"+tag+">"
		for {
			start := strings.Index(s, open)
			if start == -1 {
				break
			}
			end := strings.Index(s[start:], closing)
			if end == -1 {
				s = s[:start]
				break
			}
			s = s[:start] + s[start+end+len(closing):]
		}
	}
	return strings.TrimSpace(s)
}
