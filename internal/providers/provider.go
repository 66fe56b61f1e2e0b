// Package providers contains the language-model client contract the
// extraction engine consumes, concrete clients, and the structured-output
// validation/retry wrapper. The pipeline never constructs a client from
// ambient environment state; callers inject one explicitly.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JSONRequest is a schema-constrained completion request.
type JSONRequest struct {
	SchemaName   string
	SystemPrompt string
	UserPrompt   string
	JSONSchema   json.RawMessage
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration // per-attempt bound; cleared between attempts
}

// JSONResult is the raw provider response before schema validation.
type JSONResult struct {
	JSON             json.RawMessage
	RawText          string
	PromptTokens     int
	CompletionTokens int
}

// LLMClient completes schema-constrained JSON requests. Implementations
// handle transport-level retries (429/5xx/network); schema validation and
// validation-driven retries live in CompleteJSONWithRetry.
type LLMClient interface {
	CompleteJSON(ctx context.Context, req *JSONRequest) (*JSONResult, error)
	Name() string
}

// RequestError is a terminal transport failure (non-retryable status or
// retries exhausted).
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("llm request failed (status %d): %s", e.Status, truncate(e.Body, 200))
}

// ValidationError aggregates the last validation failure set after all
// attempts are exhausted.
type ValidationError struct {
	Attempts int
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("llm response failed schema validation after %d attempts: %s",
		e.Attempts, strings.Join(e.Errors, "; "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// parseJSONContent parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding prose.
func parseJSONContent(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty model output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, c := range candidates {
		var probe any
		if err := json.Unmarshal([]byte(c), &probe); err != nil {
			lastErr = err
			continue
		}
		return json.RawMessage(c), nil
	}
	return nil, fmt.Errorf("model output is not valid JSON: %w", lastErr)
}

// stripCodeFences removes a surrounding ```json ... ``` fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractJSONCandidate pulls the outermost {...} or [...] region from text
// that wraps JSON in prose.
func extractJSONCandidate(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	var closer byte = '}'
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
