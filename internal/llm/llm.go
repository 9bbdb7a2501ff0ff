// Package llm implements the optional LLM collaborator: query rewriting,
// chunk summarization, and rerank+select, each gated by a hard per-call
// timeout and degrading silently to the non-LLM path on error or timeout.
package llm

import (
	"context"
	"time"

	"github.com/justafolk/xtrc/internal/scorer"
)

// DefaultCallTimeout is the hard per-call timeout applied to every
// collaborator call regardless of provider.
const DefaultCallTimeout = 2 * time.Second

// DefaultGeminiThreshold gates rerank_and_select: the LLM selection is used
// only when its confidence clears this bar, otherwise the scorer's ranking
// is kept untouched.
const DefaultGeminiThreshold = 0.85

// Provider names accepted by Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderDisabled = "disabled"
)

// Config selects and parameterizes a Collaborator.
type Config struct {
	Provider        string
	GeminiModel     string
	GeminiAPIKey    string
	GeminiProjectID string
	GeminiLocation  string
	OpenAIModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	CallTimeout     time.Duration
	GeminiThreshold float64
}

// Selection is the result of a rerank_and_select call.
type Selection struct {
	Results         []scorer.Scored
	Confidence      float64
	SelectionSource string // "llm" or "scorer" (gate not cleared / call failed)
	UsedLLM         bool
}

// Collaborator is the single interface all three LLM provider variants
// implement. Every method degrades silently (ok=false) on timeout, error,
// or (for Disabled) by design — callers always have a non-LLM fallback.
type Collaborator interface {
	// Rewrite proposes a clarified version of a user query. ok is false if
	// the call failed, timed out, or the provider is disabled.
	Rewrite(ctx context.Context, query string) (rewritten string, ok bool)

	// Summarize produces a short natural-language summary of chunk content.
	Summarize(ctx context.Context, content string) (summary string, ok bool)

	// RerankAndSelect asks the LLM to pick and possibly reorder the most
	// relevant subset of candidates. ok is false if the call degraded;
	// callers keep the scorer's ranking in that case.
	RerankAndSelect(ctx context.Context, query string, candidates []scorer.Scored) (Selection, bool)
}

// New builds the Collaborator selected by cfg.Provider.
func New(cfg Config) Collaborator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.GeminiThreshold <= 0 {
		cfg.GeminiThreshold = DefaultGeminiThreshold
	}
	switch cfg.Provider {
	case ProviderGemini:
		c, err := newGeminiCollaborator(cfg)
		if err != nil {
			return disabledCollaborator{}
		}
		return c
	case ProviderOpenAI:
		return newOpenAICollaborator(cfg)
	default:
		return disabledCollaborator{}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// disabledCollaborator always degrades: every call returns ok=false so
// callers fall through to their non-LLM path.
type disabledCollaborator struct{}

func (disabledCollaborator) Rewrite(ctx context.Context, query string) (string, bool) {
	return "", false
}

func (disabledCollaborator) Summarize(ctx context.Context, content string) (string, bool) {
	return "", false
}

func (disabledCollaborator) RerankAndSelect(ctx context.Context, query string, candidates []scorer.Scored) (Selection, bool) {
	return Selection{Results: candidates, SelectionSource: "scorer"}, false
}
