package toolserver

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hyperifyio/webpipe/internal/chunks"
	"github.com/hyperifyio/webpipe/internal/evidence"
	"github.com/hyperifyio/webpipe/internal/extract"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

type cacheSearchExtractArgs struct {
	QueryTokens   []string `json:"query_tokens"`
	URLPrefix     string   `json:"url_prefix"`
	MaxChunkChars int      `json:"max_chunk_chars"`
	TopChunks     int      `json:"top_chunks"`
	MaxEntries    int      `json:"max_entries"`
}

type cacheSearchExtractResponse struct {
	envelope
	TopChunks    []evidence.TopChunk `json:"top_chunks"`
	EntriesTried int                 `json:"entries_tried"`
	EntriesUsed  int                 `json:"entries_used"`
}

// cacheSearchExtractTool re-extracts and re-selects chunks from whatever is
// already on disk, touching neither the search Router nor the network. It
// exists for offline replay and for inspecting what a prior run populated.
func (s *server) cacheSearchExtractTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_cache_search_extract",
		SemVer:      "v1.0.0",
		Description: "Search only the on-disk cache (no network): extract, chunk, and select from cached bodies.",
		JSONSchema: objectSchema(map[string]any{
			"query_tokens":    arrayOfStrings("tokens used to score chunk relevance"),
			"url_prefix":      stringProp("optional: only consider cached entries whose URL has this prefix"),
			"max_chunk_chars": intProp("per-chunk character cap"),
			"top_chunks":      intProp("number of chunks to keep after selection"),
			"max_entries":     intProp("cap on how many cache entries to scan, 0 means all"),
		}),
		Capabilities: []string{"cache", "extract"},
		Handler: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args cacheSearchExtractArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return errorResult("web_cache_search_extract", invalidParams("%v", err), "")
				}
			}
			if s.deps.Cache == nil {
				return errorResult("web_cache_search_extract", notConfigured("no cache configured"), "")
			}
			cfg := s.deps.Config
			maxChunkChars := orDefault(args.MaxChunkChars, cfg.MaxChunkChars)
			topChunks := orDefault(args.TopChunks, cfg.TopChunks)

			keyed, err := s.deps.Cache.ListEntriesWithKeys()
			if err != nil {
				return errorResult("web_cache_search_extract", err, "")
			}
			sort.Slice(keyed, func(i, j int) bool { return keyed[i].Entry.URL < keyed[j].Entry.URL })

			var candidates []chunks.Candidate
			tried, used := 0, 0
			for _, ke := range keyed {
				if args.URLPrefix != "" && !strings.HasPrefix(ke.Entry.URL, args.URLPrefix) {
					continue
				}
				if args.MaxEntries > 0 && tried >= args.MaxEntries {
					break
				}
				tried++
				body, err := s.deps.Cache.LoadBodyByKey(ke.Key)
				if err != nil {
					continue
				}
				doc := extract.Extract(body, extract.Options{ContentType: ke.Entry.ContentType, URL: ke.Entry.FinalURL, MaxChars: cfg.MaxChars})
				windows := extract.ChunkText(doc.Text, extract.ChunkOptions{MaxChunkChars: maxChunkChars, TopChunks: topChunks, QueryTokens: args.QueryTokens})
				filtered, _ := extract.FilterLowSignalChunks(windows)
				if len(filtered) == 0 {
					continue
				}
				used++
				url := ke.Entry.URL
				if url == "" {
					url = ke.Entry.FinalURL
				}
				for _, c := range filtered {
					candidates = append(candidates, chunks.Candidate{
						URL: url, StartChar: c.StartChar, EndChar: c.EndChar, Score: c.Score, Text: c.Text, CacheHit: true,
					})
				}
			}

			selected := chunks.Select(candidates, topChunks, s.deps.ChunkMode)
			top := make([]evidence.TopChunk, 0, len(selected))
			for _, c := range selected {
				top = append(top, evidence.TopChunk{URL: c.URL, StartChar: c.StartChar, EndChar: c.EndChar, Score: c.Score, Text: c.Text})
			}

			resp := cacheSearchExtractResponse{
				envelope:     okEnvelope("web_cache_search_extract"),
				TopChunks:    top,
				EntriesTried: tried,
				EntriesUsed:  used,
			}
			return json.Marshal(resp)
		},
	}
}
