package toolserver

import (
	"context"
	"encoding/json"

	"github.com/hyperifyio/webpipe/internal/llm"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

type metaResponse struct {
	envelope
	Version      string          `json:"version"`
	Providers    []string        `json:"providers"`
	Defaults     metaDefaults    `json:"defaults"`
	Capabilities metaCapabilities `json:"capabilities"`
}

type metaDefaults struct {
	MaxResults             int `json:"max_results"`
	MaxURLs                int `json:"max_urls"`
	MaxChars               int `json:"max_chars"`
	MaxChunkChars          int `json:"max_chunk_chars"`
	TopChunks              int `json:"top_chunks"`
	MaxLinks               int `json:"max_links"`
	FrontierMax            int `json:"frontier_max"`
	AgenticMaxSearchRounds int `json:"agentic_max_search_rounds"`
	PlannerMaxCalls        int `json:"planner_max_calls"`
}

type metaCapabilities struct {
	HonorRobots           bool `json:"honor_robots"`
	AllowUnsafeHeaders    bool `json:"allow_unsafe_headers"`
	NoNetwork             bool `json:"no_network"`
	LLMConfigured         bool `json:"llm_configured"`
	ModelListingSupported bool `json:"model_listing_supported"`
	ArxivConfigured       bool `json:"arxiv_configured"`
}

// metaTool reports version, configured provider names (never keys/values),
// the effective defaults, and capability flags, per spec.md §6.
func (s *server) metaTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "webpipe_meta",
		SemVer:      "v1.0.0",
		Description: "Report version, configured providers, defaults, and capability flags.",
		JSONSchema:  objectSchema(map[string]any{}),
		Capabilities: []string{"introspection"},
		Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			cfg := s.deps.Config
			var providers []string
			if s.deps.Router != nil {
				for _, a := range s.deps.Router.Arms {
					providers = append(providers, a.Name)
				}
			}
			var modelListing bool
			if s.deps.LLM != nil {
				_, modelListing = s.deps.LLM.Client.(llm.ModelLister)
			}
			resp := metaResponse{
				envelope:  okEnvelope("webpipe_meta"),
				Version:   s.deps.Version,
				Providers: providers,
				Defaults: metaDefaults{
					MaxResults:             cfg.MaxResults,
					MaxURLs:                cfg.MaxURLs,
					MaxChars:               cfg.MaxChars,
					MaxChunkChars:          cfg.MaxChunkChars,
					TopChunks:              cfg.TopChunks,
					MaxLinks:               cfg.MaxLinks,
					FrontierMax:            cfg.FrontierMax,
					AgenticMaxSearchRounds: cfg.AgenticMaxSearchRounds,
					PlannerMaxCalls:        cfg.PlannerMaxCalls,
				},
				Capabilities: metaCapabilities{
					HonorRobots:           cfg.HonorRobots,
					AllowUnsafeHeaders:    cfg.AllowUnsafeHeaders,
					NoNetwork:             cfg.NoNetwork,
					LLMConfigured:         s.deps.LLM != nil,
					ModelListingSupported: modelListing,
					ArxivConfigured:       s.deps.Arxiv != nil,
				},
			}
			return json.Marshal(resp)
		},
	}
}

type usageResponse struct {
	envelope
	Summaries map[string]usageSummary `json:"summaries"`
	Warnings  map[string]int          `json:"warning_counts,omitempty"`
	ToolCalls map[string]int          `json:"tool_call_counts,omitempty"`
}

type usageSummary struct {
	Calls         int     `json:"calls"`
	OKRate        float64 `json:"ok_rate"`
	JunkRate      float64 `json:"junk_rate"`
	HardJunkRate  float64 `json:"hard_junk_rate"`
	HTTP429Rate   float64 `json:"http_429_rate"`
	MeanCostUnits float64 `json:"mean_cost_units"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
}

// usageTool reports the StatsRegistry's per-provider summaries plus warning
// and tool-call counters, without mutating any state.
func (s *server) usageTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "webpipe_usage",
		SemVer:      "v1.0.0",
		Description: "Observe StatsRegistry summaries, warning counts, and tool-call counts.",
		JSONSchema:  objectSchema(map[string]any{}),
		Capabilities: []string{"introspection"},
		Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			if s.deps.Stats == nil {
				return errorResult("webpipe_usage", notConfigured("no stats registry configured"), "")
			}
			s.deps.Stats.RecordToolCall("webpipe_usage")
			summaries, _ := s.deps.Stats.SnapshotSummaries("")
			out := make(map[string]usageSummary, len(summaries))
			for name, sum := range summaries {
				out[name] = usageSummary{
					Calls:         sum.Calls,
					OKRate:        sum.OKRate(),
					JunkRate:      sum.JunkRate(),
					HardJunkRate:  sum.HardJunkRate(),
					HTTP429Rate:   sum.HTTP429Rate(),
					MeanCostUnits: sum.MeanCostUnits(),
					MeanLatencyMs: sum.MeanLatencyMs(),
				}
			}
			resp := usageResponse{
				envelope:  okEnvelope("webpipe_usage"),
				Summaries: out,
				Warnings:  s.deps.Stats.WarningCounts(),
				ToolCalls: s.deps.Stats.ToolCallCounts(),
			}
			return json.Marshal(resp)
		},
	}
}

// usageResetTool clears the StatsRegistry, used between benchmark runs or
// test fixtures that need a clean routing history.
func (s *server) usageResetTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "webpipe_usage_reset",
		SemVer:      "v1.0.0",
		Description: "Reset the StatsRegistry to empty.",
		JSONSchema:  objectSchema(map[string]any{}),
		Capabilities: []string{"introspection"},
		Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			if s.deps.Stats == nil {
				return errorResult("webpipe_usage_reset", notConfigured("no stats registry configured"), "")
			}
			s.deps.Stats.Reset()
			resp := okEnvelope("webpipe_usage_reset")
			return json.Marshal(resp)
		},
	}
}
