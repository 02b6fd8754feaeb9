package toolserver

import (
	"context"
	"encoding/json"

	"github.com/hyperifyio/webpipe/internal/evidence"
	"github.com/hyperifyio/webpipe/internal/llm"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

type deepResearchArgs struct {
	pipelineArgs
	Model string `json:"model"`
}

type deepResearchResponse struct {
	envelope
	Pack      evidence.Pack `json:"pack"`
	Answer    string        `json:"answer"`
	CitedURLs []string      `json:"cited_urls"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// deepResearchTool runs the full pipeline and then synthesizes a grounded
// answer from the resulting EvidencePack. Without an LLM configured, it
// still returns the pack and a not_configured-flavored empty answer rather
// than failing the whole call, so callers can fall back to reading chunks.
func (s *server) deepResearchTool() llmtools.ToolDefinition {
	schema := pipelineArgsSchema()
	schema["model"] = stringProp("override the configured synthesis model")
	return llmtools.ToolDefinition{
		StableName:  "web_deep_research",
		SemVer:      "v1.0.0",
		Description: "Run the full pipeline and synthesize a grounded, cited answer from the evidence pack.",
		JSONSchema:  objectSchema(schema, "query"),
		Capabilities: []string{"search", "fetch", "extract", "agentic", "synthesis"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args deepResearchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_deep_research", invalidParams("%v", err), "")
			}
			pack, warnings, err := s.runPipeline(ctx, args.pipelineArgs)
			if err != nil {
				return errorResult("web_deep_research", err, "")
			}
			if s.deps.LLM == nil {
				resp := deepResearchResponse{
					envelope: okEnvelope("web_deep_research"),
					Pack:     pack,
					Warnings: append(warnings, "synthesis_not_configured"),
				}
				return json.Marshal(resp)
			}
			model := args.Model
			if model == "" {
				model = s.deps.Config.LLMModel
			}
			answer, err := s.deps.LLM.Synthesize(ctx, llm.Input{Question: args.Query, Pack: pack, Model: model})
			if err != nil {
				return errorResult("web_deep_research", providerUnavailable("%v", err), "")
			}
			resp := deepResearchResponse{
				envelope:  okEnvelope("web_deep_research"),
				Pack:      pack,
				Answer:    answer.Text,
				CitedURLs: answer.CitedURLs,
				Warnings:  warnings,
			}
			return json.Marshal(resp)
		},
	}
}
