package toolserver

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hyperifyio/webpipe/internal/chunks"
	"github.com/hyperifyio/webpipe/internal/evidence"
	"github.com/hyperifyio/webpipe/internal/extract"
	"github.com/hyperifyio/webpipe/internal/fetch"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

type seedURLsArgs struct {
	List string `json:"list"`
}

type seedURLsResponse struct {
	envelope
	Lists map[string][]seedEntry `json:"lists"`
}

type seedEntry struct {
	URL   string  `json:"url"`
	Prior float64 `json:"prior,omitempty"`
}

// seedURLsTool returns the curated static seed list loaded at startup,
// optionally scoped to a single named list.
func (s *server) seedURLsTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_seed_urls",
		SemVer:      "v1.0.0",
		Description: "Return a curated static list of seed URLs (identifier/URL pairs).",
		JSONSchema:  objectSchema(map[string]any{"list": stringProp("optional: return only this named list")}),
		Capabilities: []string{"seed"},
		Handler: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args seedURLsArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return errorResult("web_seed_urls", invalidParams("%v", err), "")
				}
			}
			if s.deps.SeedList.Lists == nil {
				resp := seedURLsResponse{envelope: okEnvelope("web_seed_urls"), Lists: map[string][]seedEntry{}}
				return json.Marshal(resp)
			}
			out := make(map[string][]seedEntry, len(s.deps.SeedList.Lists))
			for name, urls := range s.deps.SeedList.Lists {
				if args.List != "" && name != args.List {
					continue
				}
				entries := make([]seedEntry, 0, len(urls))
				for _, u := range urls {
					entries = append(entries, seedEntry{URL: u.URL, Prior: u.Prior})
				}
				out[name] = entries
			}
			resp := seedURLsResponse{envelope: okEnvelope("web_seed_urls"), Lists: out}
			return json.Marshal(resp)
		},
	}
}

type seedSearchExtractArgs struct {
	List          string   `json:"list"`
	QueryTokens   []string `json:"query_tokens"`
	MaxChars      int      `json:"max_chars"`
	MaxChunkChars int      `json:"max_chunk_chars"`
	TopChunks     int      `json:"top_chunks"`
	TimeoutMs     int      `json:"timeout_ms"`
	MaxBytes      int64    `json:"max_bytes"`
}

type seedSearchExtractResponse struct {
	envelope
	List      string               `json:"list"`
	TopChunks []evidence.TopChunk  `json:"top_chunks"`
	Results   []evidence.URLResult `json:"results"`
}

// seedSearchExtractTool fetches+extracts every URL in a named seed list and
// merges the resulting chunks through the same ChunkSelector used by the
// full pipeline, without any search-provider round trip.
func (s *server) seedSearchExtractTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName: "web_seed_search_extract",
		SemVer:     "v1.0.0",
		Description: "Fetch+extract a bounded seed set, merge chunks per query.",
		JSONSchema: objectSchema(map[string]any{
			"list":            stringProp("name of the seed list to use"),
			"query_tokens":    arrayOfStrings("tokens used to score chunk relevance"),
			"max_chars":       intProp("per-URL extracted text cap"),
			"max_chunk_chars": intProp("per-chunk character cap"),
			"top_chunks":      intProp("number of chunks to keep after selection"),
			"timeout_ms":      intProp("per-fetch timeout"),
			"max_bytes":       intProp("per-fetch byte cap"),
		}, "list"),
		Capabilities: []string{"seed", "fetch", "extract"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args seedSearchExtractArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_seed_search_extract", invalidParams("%v", err), "")
			}
			if strings.TrimSpace(args.List) == "" {
				return errorResult("web_seed_search_extract", invalidParams("list is required"), "")
			}
			if s.deps.Fetcher == nil {
				return errorResult("web_seed_search_extract", notConfigured("no fetcher configured"), "")
			}
			urls, ok := s.deps.SeedList.Lists[args.List]
			if !ok {
				return errorResult("web_seed_search_extract", invalidParams("unknown seed list %q", args.List), "")
			}

			cfg := s.deps.Config
			maxChars := orDefault(args.MaxChars, cfg.MaxChars)
			maxChunkChars := orDefault(args.MaxChunkChars, cfg.MaxChunkChars)
			topChunks := orDefault(args.TopChunks, cfg.TopChunks)
			timeoutMs := orDefault(args.TimeoutMs, 10000)
			maxBytes := args.MaxBytes
			if maxBytes <= 0 {
				maxBytes = cfg.MaxBytes
			}

			sortedURLs := make([]string, 0, len(urls))
			for _, u := range urls {
				sortedURLs = append(sortedURLs, u.URL)
			}
			sort.Strings(sortedURLs)

			var candidates []chunks.Candidate
			results := make([]evidence.URLResult, 0, len(sortedURLs))
			for _, rawURL := range sortedURLs {
				resp, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{
					URL:       rawURL,
					TimeoutMs: timeoutMs,
					MaxBytes:  maxBytes,
					Cache:     fetch.CachePolicy{Read: true, Write: true},
				})
				if err != nil {
					results = append(results, evidence.URLResult{URL: rawURL, OK: false, Error: err.Error()})
					continue
				}
				doc := extract.Extract(resp.Bytes, extract.Options{ContentType: resp.ContentType, URL: resp.FinalURL, MaxChars: maxChars})
				windows := extract.ChunkText(doc.Text, extract.ChunkOptions{MaxChunkChars: maxChunkChars, TopChunks: topChunks, QueryTokens: args.QueryTokens})
				filtered, _ := extract.FilterLowSignalChunks(windows)
				for _, c := range filtered {
					candidates = append(candidates, chunks.Candidate{
						URL: rawURL, StartChar: c.StartChar, EndChar: c.EndChar, Score: c.Score, Text: c.Text,
						CacheHit: resp.Source == fetch.SourceCache,
					})
				}
				results = append(results, evidence.URLResult{
					URL: rawURL, FinalURL: resp.FinalURL, OK: true, Status: resp.Status,
					ContentType: resp.ContentType, Bytes: len(resp.Bytes),
					Extract: evidence.ExtractSummary{Engine: doc.Engine, TextChars: len([]rune(doc.Text)), Chunks: len(filtered)},
				})
			}

			selected := chunks.Select(candidates, topChunks, s.deps.ChunkMode)
			top := make([]evidence.TopChunk, 0, len(selected))
			for _, c := range selected {
				top = append(top, evidence.TopChunk{URL: c.URL, StartChar: c.StartChar, EndChar: c.EndChar, Score: c.Score, Text: c.Text})
			}

			resp := seedSearchExtractResponse{
				envelope:  okEnvelope("web_seed_search_extract"),
				List:      args.List,
				TopChunks: top,
				Results:   results,
			}
			return json.Marshal(resp)
		},
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
