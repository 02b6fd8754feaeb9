// Package planner implements bounded, optional LLM query expansion: given a
// question, propose up to planner_max_calls additional search queries that
// diversify phrasing and surface counter-evidence angles before the Router
// and AgenticLoop run.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webpipe/internal/cache"
)

// MaxCalls clamps planner_max_calls to [0,10] per the resource model.
func MaxCalls(n int) int {
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

// ChatClient abstracts the OpenAI client dependency for testability.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Expansion is the structured planner output: additional queries to run
// alongside the caller's original question.
type Expansion struct {
	Queries []string `json:"queries"`
}

// Expander proposes query expansions for a question. A zero-value
// FallbackExpander satisfies this without calling an LLM.
type Expander interface {
	Expand(ctx context.Context, question string, maxCalls int) (Expansion, error)
}

// LLMExpander calls an OpenAI-compatible endpoint and enforces a JSON-only
// contract: {"queries": string[]}.
type LLMExpander struct {
	Client ChatClient
	Model  string
	Cache  *cache.LLMCache
}

func buildSystemMessage(maxCalls int) string {
	return fmt.Sprintf("You are a search query planning assistant. Respond with strict JSON only, no narration. The JSON schema is {\"queries\": string[0..%d]}. Queries must be diverse, concise, and include at least one that seeks counter-evidence or alternatives when the question invites a claim.", maxCalls)
}

// Expand calls the model once and returns up to maxCalls sanitized,
// deduplicated queries. On any failure it returns an error; callers should
// fall back to FallbackExpander rather than block the pipeline.
func (p *LLMExpander) Expand(ctx context.Context, question string, maxCalls int) (Expansion, error) {
	maxCalls = MaxCalls(maxCalls)
	if maxCalls == 0 {
		return Expansion{}, nil
	}
	if p.Client == nil || strings.TrimSpace(p.Model) == "" {
		return Expansion{}, errors.New("planner not configured")
	}

	system := buildSystemMessage(maxCalls)
	user := "Question: " + question

	if p.Cache != nil {
		key := cache.KeyFrom(p.Model, system+"\n\n"+user)
		if raw, ok, _ := p.Cache.Get(ctx, key); ok {
			var exp Expansion
			if err := json.Unmarshal(raw, &exp); err == nil {
				exp.Queries = clampQueries(sanitizeQueries(exp.Queries), maxCalls)
				return exp, nil
			}
		}
	}

	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
		N:           1,
	})
	if err != nil {
		return Expansion{}, fmt.Errorf("planner call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Expansion{}, errors.New("no choices")
	}
	var exp Expansion
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &exp); err != nil {
		return Expansion{}, fmt.Errorf("parse planner json: %w", err)
	}
	exp.Queries = clampQueries(sanitizeQueries(exp.Queries), maxCalls)

	if p.Cache != nil {
		if b, err := json.Marshal(exp); err == nil {
			_ = p.Cache.Save(ctx, cache.KeyFrom(p.Model, system+"\n\n"+user), b)
		}
	}
	return exp, nil
}

// FallbackExpander produces deterministic query variants without calling an
// LLM, used when no LLM is configured or the LLMExpander errors.
type FallbackExpander struct{}

func (FallbackExpander) Expand(_ context.Context, question string, maxCalls int) (Expansion, error) {
	maxCalls = MaxCalls(maxCalls)
	question = strings.TrimSpace(question)
	if maxCalls == 0 || question == "" {
		return Expansion{}, nil
	}
	suffixes := []string{"overview", "documentation", "tutorial", "limitations", "alternatives", "comparison", "criticisms", "best practices", "examples", "faq"}
	queries := make([]string, 0, maxCalls)
	for _, s := range suffixes {
		if len(queries) >= maxCalls {
			break
		}
		queries = append(queries, question+" "+s)
	}
	return Expansion{Queries: queries}, nil
}

func sanitizeQueries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, q := range in {
		s := strings.TrimSpace(q)
		if s == "" {
			continue
		}
		s = strings.TrimSuffix(s, ".")
		s = strings.TrimSuffix(s, "?")
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clampQueries(in []string, maxCalls int) []string {
	if len(in) > maxCalls {
		return in[:maxCalls]
	}
	return in
}
