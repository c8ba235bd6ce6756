package rag

import (
	"path"
	"strings"
	"unicode/utf8"
)

// SkipReason explains why a file was not embedded.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipExtension  SkipReason = "extension not allowed"
	SkipEmpty      SkipReason = "empty content"
	SkipTooLarge   SkipReason = "content too large"
	SkipNotRegular SkipReason = "not a regular file"
)

// Filter decides whether a file is eligible for embedding.
type Filter struct {
	maxChars int
	exts     map[string]bool
}

// NewFilter builds a filter. Extensions are matched exactly, including the
// leading dot; maxChars counts characters, not bytes.
func NewFilter(maxChars int, extensions []string) *Filter {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[e] = true
	}
	return &Filter{maxChars: maxChars, exts: exts}
}

// MaxChars returns the configured content ceiling.
func (f *Filter) MaxChars() int { return f.maxChars }

// AllowsExtension reports whether p has an allow-listed extension.
func (f *Filter) AllowsExtension(p string) bool {
	return f.exts[path.Ext(p)]
}

// Check returns SkipNone when the file is eligible.
func (f *Filter) Check(p, content string) SkipReason {
	if !f.AllowsExtension(p) {
		return SkipExtension
	}
	if strings.TrimSpace(content) == "" {
		return SkipEmpty
	}
	if utf8.RuneCountInString(content) > f.maxChars {
		return SkipTooLarge
	}
	return SkipNone
}

// IsEligible reports whether all eligibility rules hold.
func (f *Filter) IsEligible(p, content string) bool {
	return f.Check(p, content) == SkipNone
}
