// Package llm defines the completion-service boundary used by the
// conversational generator, the risk assessor, and the fact extractor.
package llm

import (
	"context"
	"strings"
)

// Provider is the interface for any text-completion backend.
// One prompt in, one text completion out; no tool contract is assumed.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is the input to a completion call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the output of a completion call.
type Response struct {
	Text  string
	Usage Usage
}

// Usage reports token consumption for a single completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// JSONBlock extracts the JSON payload from a completion that may wrap it
// in markdown code fences or surrounding prose. Returns "" when no
// object or array delimiters are present.
func JSONBlock(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
