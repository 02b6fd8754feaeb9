package toolserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hyperifyio/webpipe/internal/agentic"
	"github.com/hyperifyio/webpipe/internal/evidence"
	"github.com/hyperifyio/webpipe/internal/llmtools"
	"github.com/hyperifyio/webpipe/internal/planner"
	"github.com/hyperifyio/webpipe/internal/router"
	selecter "github.com/hyperifyio/webpipe/internal/select"
	"github.com/hyperifyio/webpipe/internal/stats"
)

// routerSearcher adapts *router.Router to agentic.Searcher: Mode "" or
// "auto", "merge" and "fallback" select the Router's own modes, any other
// Mode is taken as an explicit provider name (mirroring router.Router.Search's
// contract).
type routerSearcher struct {
	r *router.Router
}

func (rs routerSearcher) Search(ctx context.Context, q agentic.SearchQuery) (agentic.SearchOutcome, error) {
	providerName := ""
	autoMode := router.ModeMAB
	switch q.Mode {
	case "", "auto":
		autoMode = router.ModeMAB
	case "merge":
		autoMode = router.ModeMerge
	case "fallback":
		autoMode = router.ModeFallback
	default:
		providerName = q.Mode
	}
	out, err := rs.r.Search(ctx, router.Query{Query: q.Text, MaxResults: q.MaxResults}, providerName, autoMode)
	if err != nil {
		return agentic.SearchOutcome{}, err
	}
	urls := make([]string, 0, len(out.Results))
	for _, res := range out.Results {
		urls = append(urls, res.URL)
	}
	return agentic.SearchOutcome{URLs: urls}, nil
}

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Provider   string `json:"provider"`
	Mode       string `json:"mode"`
	Language   string `json:"language"`
	Country    string `json:"country"`
}

type searchResponse struct {
	envelope
	BackendProvider string            `json:"backend_provider"`
	Results         []searchResultOut `json:"results"`
	Warnings        []string          `json:"warnings,omitempty"`
}

type searchResultOut struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
}

// searchTool runs the Router alone and returns provider results.
func (s *server) searchTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_search",
		SemVer:      "v1.0.0",
		Description: "Run the search Router only and return provider results.",
		JSONSchema: objectSchema(map[string]any{
			"query":       stringProp("the search query text"),
			"max_results": intProp("maximum results to return, clamped to [1,20]"),
			"provider":    stringProp("explicit provider name, or omit/\"auto\" to let the router choose"),
			"mode":        stringProp("auto (default), merge, or fallback"),
			"language":    stringProp("optional language hint"),
			"country":     stringProp("optional country hint"),
		}, "query"),
		Capabilities: []string{"search"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args searchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_search", invalidParams("%v", err), "")
			}
			if strings.TrimSpace(args.Query) == "" {
				return errorResult("web_search", invalidParams("query is required"), "")
			}
			if s.deps.Router == nil {
				return errorResult("web_search", notConfigured("no search router configured"), "")
			}
			autoMode := router.ModeMAB
			switch args.Mode {
			case "merge":
				autoMode = router.ModeMerge
			case "fallback":
				autoMode = router.ModeFallback
			}
			out, err := s.deps.Router.Search(ctx, router.Query{
				Query: args.Query, MaxResults: args.MaxResults, Language: args.Language, Country: args.Country,
			}, args.Provider, autoMode)
			if err != nil {
				return errorResult("web_search", err, "")
			}
			// Cap per-domain diversity before handing results back, so a
			// single site dominating a provider's ranking cannot crowd out
			// the rest of the result set.
			diverse := selecter.Select(out.Results, selecter.Options{
				MaxTotal: router.ClampMaxResults(args.MaxResults), PerDomain: 3, PreferPrimary: true, PreferredLanguage: args.Language,
			})
			results := make([]searchResultOut, 0, len(diverse))
			for _, r := range diverse {
				results = append(results, searchResultOut{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Source: r.Source})
			}
			resp := searchResponse{
				envelope:        okEnvelope("web_search"),
				BackendProvider: out.BackendProvider,
				Results:         results,
				Warnings:        out.Warnings,
			}
			return json.Marshal(resp)
		},
	}
}

// pipelineArgs is the shared shape behind web_search_extract and
// web_deep_research: a bounded query expansion, seed/search round, and
// AgenticLoop run, assembled into an EvidencePack.
type pipelineArgs struct {
	Query                  string   `json:"query"`
	SeedURLs               []string `json:"seed_urls"`
	MaxResults             int      `json:"max_results"`
	MaxURLs                int      `json:"max_urls"`
	MaxBytes               int64    `json:"max_bytes"`
	MaxChars               int      `json:"max_chars"`
	MaxChunkChars          int      `json:"max_chunk_chars"`
	TopChunks              int      `json:"top_chunks"`
	MaxLinks               int      `json:"max_links"`
	FrontierMax            int      `json:"frontier_max"`
	AgenticMaxSearchRounds int      `json:"agentic_max_search_rounds"`
	PlannerMaxCalls        int      `json:"planner_max_calls"`
	TimeoutMs              int      `json:"timeout_ms"`
	Mode                   string   `json:"mode"`
}

func pipelineArgsSchema() map[string]any {
	return map[string]any{
		"query":                     stringProp("the research question or search query"),
		"seed_urls":                 arrayOfStrings("explicit seed URLs; when set, the initial search round is skipped"),
		"max_results":               intProp("search results per round, clamped to [1,20]"),
		"max_urls":                  intProp("total URLs to fetch+extract, clamped to [1,10]"),
		"max_bytes":                 intProp("per-fetch byte cap"),
		"max_chars":                 intProp("per-URL extracted text cap"),
		"max_chunk_chars":           intProp("per-chunk character cap"),
		"top_chunks":                intProp("chunks kept in the evidence pack"),
		"max_links":                 intProp("outbound links considered per page"),
		"frontier_max":              intProp("frontier size cap, clamped to [50,2000]"),
		"agentic_max_search_rounds": intProp("search escalation rounds, clamped to [1,5]"),
		"planner_max_calls":         intProp("bounded query-expansion calls, clamped to [0,10]"),
		"timeout_ms":                intProp("per-fetch timeout"),
		"mode":                      stringProp("auto (default), merge, fallback, or an explicit provider name"),
	}
}

// runPipeline expands the query (when configured), seeds and runs the
// AgenticLoop, and assembles the resulting EvidencePack. Returns the pack
// plus any pipeline-level (as opposed to per-URL) warnings.
func (s *server) runPipeline(ctx context.Context, args pipelineArgs) (evidence.Pack, []string, error) {
	if strings.TrimSpace(args.Query) == "" {
		return evidence.Pack{}, nil, invalidParams("query is required")
	}
	if s.deps.Fetcher == nil {
		return evidence.Pack{}, nil, notConfigured("no fetcher configured")
	}

	cfg := s.deps.Config
	opt := agentic.Options{
		MaxURLs:                orDefault(args.MaxURLs, cfg.MaxURLs),
		MaxLinks:                orDefault(args.MaxLinks, cfg.MaxLinks),
		FrontierMax:             orDefault(args.FrontierMax, cfg.FrontierMax),
		AgenticMaxSearchRounds:  orDefault(args.AgenticMaxSearchRounds, cfg.AgenticMaxSearchRounds),
		MaxBytes:                int64OrDefault(args.MaxBytes, cfg.MaxBytes),
		MaxChars:                orDefault(args.MaxChars, cfg.MaxChars),
		MaxChunkChars:           orDefault(args.MaxChunkChars, cfg.MaxChunkChars),
		TopChunksPerURL:         orDefault(args.TopChunks, cfg.TopChunks),
		TimeoutMs:               orDefault(args.TimeoutMs, 10000),
		BatchSize:               4,
		QueryTokens:             strings.Fields(args.Query),
	}.Clamp()

	var warnings []string
	seedURLs := append([]string(nil), args.SeedURLs...)

	if len(seedURLs) == 0 && s.deps.Router != nil {
		plannerMaxCalls := planner.MaxCalls(args.PlannerMaxCalls)
		searcher := routerSearcher{r: s.deps.Router}
		out, err := searcher.Search(ctx, agentic.SearchQuery{Text: args.Query, MaxResults: opt.MaxURLs, Mode: args.Mode})
		if err == nil {
			seedURLs = append(seedURLs, out.URLs...)
		}
		if plannerMaxCalls > 0 && s.deps.Planner != nil {
			expansion, expErr := s.deps.Planner.Expand(ctx, args.Query, plannerMaxCalls)
			if expErr == nil {
				seen := make(map[string]bool, len(seedURLs))
				for _, u := range seedURLs {
					seen[u] = true
				}
				for _, q := range expansion.Queries {
					more, mErr := searcher.Search(ctx, agentic.SearchQuery{Text: q, MaxResults: opt.MaxURLs, Mode: "merge"})
					if mErr != nil {
						continue
					}
					for _, u := range more.URLs {
						if !seen[u] {
							seen[u] = true
							seedURLs = append(seedURLs, u)
						}
					}
				}
			} else {
				warnings = append(warnings, "planner_expansion_failed")
			}
		}
	}

	loop := agentic.Loop{Fetcher: s.deps.Fetcher}
	if s.deps.Router != nil {
		loop.Searcher = routerSearcher{r: s.deps.Router}
	}
	result := loop.Run(ctx, args.Query, seedURLs, opt)
	if result.StuckOccurred {
		warnings = append(warnings, "stuck_escalated_to_new_search_round")
	}

	questionKey := args.Query
	if s.deps.Stats != nil {
		questionKey = stats.NormalizeQueryKey(args.Query)
	}
	pack := s.evidenceAssembler(orDefault(args.TopChunks, cfg.TopChunks)).Assemble(args.Query, questionKey, result.Records)
	return pack, warnings, nil
}

type searchExtractResponse struct {
	envelope
	Pack     evidence.Pack `json:"pack"`
	Warnings []string      `json:"warnings,omitempty"`
}

// searchExtractTool is the full pipeline: Router + AgenticLoop + Extractor +
// ChunkSelector, assembled into an EvidencePack.
func (s *server) searchExtractTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_search_extract",
		SemVer:      "v1.0.0",
		Description: "Run the full pipeline (Router + AgenticLoop + Extractor + Selector).",
		JSONSchema:  objectSchema(pipelineArgsSchema(), "query"),
		Capabilities: []string{"search", "fetch", "extract", "agentic"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args pipelineArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_search_extract", invalidParams("%v", err), "")
			}
			pack, warnings, err := s.runPipeline(ctx, args)
			if err != nil {
				return errorResult("web_search_extract", err, "")
			}
			resp := searchExtractResponse{envelope: okEnvelope("web_search_extract"), Pack: pack, Warnings: warnings}
			return json.Marshal(resp)
		},
	}
}
