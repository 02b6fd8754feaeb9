// Package llm calls an OpenAI-compatible chat completion endpoint to
// synthesize a deep-research answer from an evidence pack's top chunks.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webpipe/internal/budget"
	"github.com/hyperifyio/webpipe/internal/cache"
	"github.com/hyperifyio/webpipe/internal/evidence"
)

// reservedOutputTokens is subtracted from a model's context window before
// deciding how many evidence chunks fit in the prompt.
const reservedOutputTokens = 1024

// ChatClient abstracts the OpenAI client dependency for testability.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Input bundles what Synthesize needs: the question, the evidence pack
// assembled by the agentic pipeline, and the model to call.
type Input struct {
	Question string
	Pack     evidence.Pack
	Model    string
}

// Synthesizer calls the LLM to produce a grounded answer citing top_chunks
// by their (url, start_char, end_char) position.
type Synthesizer struct {
	Client ChatClient
	Cache  *cache.LLMCache
}

// Answer is the structured result of a deep-research synthesis call.
type Answer struct {
	Text       string   `json:"text"`
	CitedURLs  []string `json:"cited_urls"`
}

// Synthesize requests a single grounded answer using only pack.TopChunks as
// source material. It returns an error (never an llm-shaped apperr) for the
// caller to classify; toolserver wraps it as provider_unavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Answer, error) {
	if s.Client == nil || strings.TrimSpace(in.Model) == "" {
		return Answer{}, errors.New("synthesizer not configured")
	}
	system := buildSystemMessage()
	user := buildUserMessage(in)

	if s.Cache != nil {
		key := cache.KeyFrom(in.Model, system+"\n\n"+user)
		if raw, ok, _ := s.Cache.Get(ctx, key); ok {
			var out Answer
			if err := json.Unmarshal(raw, &out); err == nil && strings.TrimSpace(out.Text) != "" {
				return out, nil
			}
		}
	}

	req := openai.ChatCompletionRequest{
		Model: in.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
		N:           1,
	}
	resp, err := s.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Answer{}, fmt.Errorf("synthesis call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, errors.New("no choices from model")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Answer{}, errors.New("empty synthesis output")
	}
	out := Answer{Text: text, CitedURLs: citedURLs(in.Pack)}
	if s.Cache != nil {
		payload, _ := json.Marshal(out)
		_ = s.Cache.Save(ctx, cache.KeyFrom(in.Model, system+"\n\n"+user), payload)
	}
	return out, nil
}

func citedURLs(pack evidence.Pack) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(pack.TopChunks))
	for _, c := range pack.TopChunks {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c.URL)
	}
	return out
}

func buildSystemMessage() string {
	return "You are a careful research assistant. Use ONLY the provided evidence chunks as facts. Cite each claim with its source URL. Do not invent sources or content. Keep the answer concise and factual."
}

func buildUserMessage(in Input) string {
	chunks := fitChunksToContext(in.Model, in.Question, in.Pack.TopChunks)
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(in.Question)
	sb.WriteString("\n\nEvidence chunks (cite by URL; use only these):\n")
	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("\n[%d] %s (chars %d-%d)\n", i+1, c.URL, c.StartChar, c.EndChar))
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnswer the question using only the evidence above. If the evidence is insufficient, say so explicitly rather than guessing.")
	return sb.String()
}

// fitChunksToContext drops trailing (lowest-ranked) chunks until the
// estimated prompt fits the model's context window minus the output
// reservation, so a large evidence pack degrades gracefully instead of
// producing a request the provider will reject.
func fitChunksToContext(model, question string, all []evidence.TopChunk) []evidence.TopChunk {
	system := buildSystemMessage()
	kept := append([]evidence.TopChunk(nil), all...)
	for len(kept) > 0 {
		excerpts := make([]string, len(kept))
		for i, c := range kept {
			excerpts[i] = c.Text
		}
		promptTokens := budget.EstimatePromptTokens(system, question, excerpts)
		if budget.FitsInContext(model, reservedOutputTokens, promptTokens) {
			break
		}
		kept = kept[:len(kept)-1]
	}
	return kept
}
