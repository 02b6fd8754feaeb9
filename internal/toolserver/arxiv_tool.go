package toolserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hyperifyio/webpipe/internal/arxiv"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

type arxivSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type arxivSearchResponse struct {
	envelope
	Papers []arxiv.Paper `json:"papers"`
}

// arxivSearchTool wraps arxiv.Client.Search as a standalone tool, so an
// agent can go straight to structured paper search without routing through
// the general web search providers.
func (s *server) arxivSearchTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "arxiv_search",
		SemVer:      "v1.0.0",
		Description: "Search arXiv's Atom export API for papers matching a query.",
		JSONSchema: objectSchema(map[string]any{
			"query":       stringProp("search terms"),
			"max_results": intProp("maximum papers to return, clamped to [1,50]"),
		}, "query"),
		Capabilities: []string{"search", "arxiv"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args arxivSearchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("arxiv_search", invalidParams("%v", err), "")
			}
			if s.deps.Arxiv == nil {
				return errorResult("arxiv_search", notConfigured("no arxiv client configured"), "")
			}
			papers, err := s.deps.Arxiv.Search(ctx, args.Query, args.MaxResults)
			if err != nil {
				return errorResult("arxiv_search", err, "")
			}
			resp := arxivSearchResponse{envelope: okEnvelope("arxiv_search"), Papers: papers}
			return json.Marshal(resp)
		},
	}
}

type arxivEnrichArgs struct {
	ArxivID string `json:"arxiv_id"`
}

type arxivEnrichResponse struct {
	envelope
	Paper arxiv.Paper `json:"paper"`
}

// arxivEnrichTool looks up a single paper by its arXiv identifier, used to
// fill in abstract/authors/PDF link once a URL-discovery loop surfaces an
// arxiv.org link and only has the ID.
func (s *server) arxivEnrichTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "arxiv_enrich",
		SemVer:      "v1.0.0",
		Description: "Fetch full metadata for one arXiv paper by ID.",
		JSONSchema:  objectSchema(map[string]any{"arxiv_id": stringProp("e.g. 2310.06825")}, "arxiv_id"),
		Capabilities: []string{"arxiv"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args arxivEnrichArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("arxiv_enrich", invalidParams("%v", err), "")
			}
			if strings.TrimSpace(args.ArxivID) == "" {
				return errorResult("arxiv_enrich", invalidParams("arxiv_id is required"), "")
			}
			if s.deps.Arxiv == nil {
				return errorResult("arxiv_enrich", notConfigured("no arxiv client configured"), "")
			}
			paper, err := s.deps.Arxiv.Enrich(ctx, args.ArxivID)
			if err != nil {
				return errorResult("arxiv_enrich", err, "")
			}
			resp := arxivEnrichResponse{envelope: okEnvelope("arxiv_enrich"), Paper: paper}
			return json.Marshal(resp)
		},
	}
}
