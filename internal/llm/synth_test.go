package llm

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webpipe/internal/evidence"
)

type capturingClient struct{ lastReq openai.ChatCompletionRequest }

func (c *capturingClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.lastReq = req
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "go is a language"},
		}},
	}, nil
}

func TestSynthesize_IncludesEvidenceChunksAndCitesURLs(t *testing.T) {
	cc := &capturingClient{}
	s := &Synthesizer{Client: cc}
	pack := evidence.Pack{
		TopChunks: []evidence.TopChunk{
			{URL: "https://go.dev", StartChar: 0, EndChar: 10, Text: "Go is a statically typed language."},
		},
	}
	out, err := s.Synthesize(context.Background(), Input{Question: "what is go", Pack: pack, Model: "test-model"})
	if err != nil {
		t.Fatalf("synthesize error: %v", err)
	}
	if out.Text == "" {
		t.Fatalf("expected non-empty answer text")
	}
	if len(out.CitedURLs) != 1 || out.CitedURLs[0] != "https://go.dev" {
		t.Fatalf("expected cited_urls to reflect top_chunks, got %v", out.CitedURLs)
	}
	if len(cc.lastReq.Messages) < 2 || !strings.Contains(cc.lastReq.Messages[1].Content, "Go is a statically typed language.") {
		t.Fatalf("expected user message to embed the evidence chunk text")
	}
}

func TestSynthesize_ErrorsWhenClientMissing(t *testing.T) {
	s := &Synthesizer{}
	if _, err := s.Synthesize(context.Background(), Input{Model: "m"}); err == nil {
		t.Fatalf("expected error when Client is nil")
	}
}

func TestSynthesize_ErrorsWhenModelMissing(t *testing.T) {
	s := &Synthesizer{Client: &capturingClient{}}
	if _, err := s.Synthesize(context.Background(), Input{}); err == nil {
		t.Fatalf("expected error when Model is empty")
	}
}

func TestBuildUserMessage_DropsTrailingChunksThatOverflowContext(t *testing.T) {
	huge := strings.Repeat("evidence ", 20000) // far larger than a small model's context
	pack := evidence.Pack{TopChunks: []evidence.TopChunk{
		{URL: "https://a.example", Text: "short and relevant"},
		{URL: "https://b.example", Text: huge},
	}}
	msg := buildUserMessage(Input{Question: "q", Pack: pack, Model: "tiny-model"})
	if !strings.Contains(msg, "https://a.example") {
		t.Fatalf("expected the first, smaller chunk to survive trimming")
	}
	if strings.Contains(msg, "https://b.example") {
		t.Fatalf("expected the oversized trailing chunk to be dropped")
	}
}
