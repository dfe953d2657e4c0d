// Package generate turns a cleaned transcript prompt into a validated SOAP
// note using an LLM backend.
//
// The generator is deliberately thin: it owns prompt-to-model plumbing and
// response parsing, while retries, persistence, and status bookkeeping live
// in the pipeline.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanote/evanote/internal/soap"
	"github.com/evanote/evanote/pkg/llm"
)

// Error classifies why a generation attempt failed. Schema errors indicate
// the model produced output that does not fit the note structure; transport
// errors indicate the backend call itself failed.
type Error struct {
	// Op is the failing step: "complete", "decode", or "validate".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generate: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Generator produces SOAP notes from prompts via an [llm.Provider].
// Safe for concurrent use.
type Generator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// New constructs a Generator. maxTokens caps the completion length; zero
// means the backend default.
func New(provider llm.Provider, temperature float64, maxTokens int) *Generator {
	return &Generator{
		provider:    provider,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Generate sends the prompts to the model and returns the parsed, validated
// note together with token usage. When the backend omits usage accounting,
// counts are estimated from the message text so billing rows are never empty.
func (g *Generator) Generate(ctx context.Context, prompts soap.Prompts) (*soap.Note, llm.Usage, error) {
	req := llm.Request{
		SystemPrompt: prompts.System,
		Messages:     []llm.Message{{Role: "user", Content: prompts.User}},
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	}

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		return nil, llm.Usage{}, &Error{Op: "complete", Err: err}
	}
	if resp == nil || resp.Content == "" {
		return nil, llm.Usage{}, &Error{Op: "complete", Err: fmt.Errorf("empty completion")}
	}

	note, err := decodeNote(resp.Content)
	if err != nil {
		return nil, llm.Usage{}, &Error{Op: "decode", Err: err}
	}
	if err := note.Validate(); err != nil {
		return nil, llm.Usage{}, &Error{Op: "validate", Err: err}
	}

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage = g.estimateUsage(req, resp.Content)
	}
	return note, usage, nil
}

// estimateUsage approximates token counts for backends that do not report
// usage.
func (g *Generator) estimateUsage(req llm.Request, completion string) llm.Usage {
	in, err := g.provider.CountTokens(append(
		[]llm.Message{{Role: "system", Content: req.SystemPrompt}},
		req.Messages...,
	))
	if err != nil {
		in = 0
	}
	out, err := g.provider.CountTokens([]llm.Message{{Role: "assistant", Content: completion}})
	if err != nil {
		out = 0
	}
	return llm.Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}

// decodeNote parses the model output into a note. Models occasionally wrap
// the JSON object in a markdown code fence or surround it with prose despite
// instructions, so decoding extracts the outermost object first.
func decodeNote(content string) (*soap.Note, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var note soap.Note
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&note); err != nil {
		return nil, fmt.Errorf("parse completion: %w", err)
	}
	return &note, nil
}

// extractJSON returns the outermost {...} object in s, or "" when none
// exists. Brace matching ignores braces inside JSON strings.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
