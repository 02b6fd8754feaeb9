package toolserver

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webpipe/internal/llm"
)

type stubChatOnlyClient struct{}

func (stubChatOnlyClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}

type stubModelListingClient struct{ stubChatOnlyClient }

func (stubModelListingClient) ListModels(context.Context) (openai.ModelsList, error) {
	return openai.ModelsList{}, nil
}

func TestMetaTool_ModelListingSupportedReflectsClientCapability(t *testing.T) {
	s := &server{deps: Deps{LLM: &llm.Synthesizer{Client: stubChatOnlyClient{}}}}
	raw, err := s.metaTool().Handler(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp metaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Capabilities.LLMConfigured || resp.Capabilities.ModelListingSupported {
		t.Fatalf("expected llm_configured=true, model_listing_supported=false, got %+v", resp.Capabilities)
	}

	s = &server{deps: Deps{LLM: &llm.Synthesizer{Client: stubModelListingClient{}}}}
	raw, err = s.metaTool().Handler(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Capabilities.ModelListingSupported {
		t.Fatalf("expected model_listing_supported=true when the client implements ModelLister, got %+v", resp.Capabilities)
	}
}

func TestMetaTool_NoLLMConfigured(t *testing.T) {
	s := &server{deps: Deps{}}
	raw, err := s.metaTool().Handler(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp metaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Capabilities.LLMConfigured || resp.Capabilities.ModelListingSupported {
		t.Fatalf("expected both llm capability flags false, got %+v", resp.Capabilities)
	}
}
