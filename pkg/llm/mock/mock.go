// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the generation pipeline sends
// correct requests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.Response{{Content: `{"subjective": "..."}`}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/evanote/evanote/pkg/llm"
)

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and
// nil errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is consumed one element per Complete call, allowing a test to
	// script a failure followed by a success. When the slice is exhausted the
	// last element is returned for every further call.
	Responses []*llm.Response

	// Errs is consumed alongside Responses: Errs[i] is returned by the i-th
	// Complete call. Entries may be nil. When shorter than the call count,
	// extra calls return a nil error.
	Errs []error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the scripted response and error for
// this call index.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	var err error
	if idx < len(p.Errs) {
		err = p.Errs[idx]
	}

	var resp *llm.Response
	if len(p.Responses) > 0 {
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		resp = p.Responses[idx]
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CountTokens returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
