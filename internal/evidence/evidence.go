// Package evidence assembles per-URL agentic records into the compact,
// redacted webpipe_evidence_pack JSON shape.
package evidence

import (
	"github.com/hyperifyio/webpipe/internal/agentic"
	"github.com/hyperifyio/webpipe/internal/chunks"
	"github.com/hyperifyio/webpipe/internal/extract"
)

const (
	SchemaVersion = 1
	Kind          = "webpipe_evidence_pack"
)

// ExtractSummary is the compact {engine, text_chars, chunks} shape a
// redacted per-URL result carries instead of the full extracted text.
type ExtractSummary struct {
	Engine    string `json:"engine"`
	TextChars int    `json:"text_chars"`
	Chunks    int    `json:"chunks"`
}

// URLResult is one redacted per-URL record.
type URLResult struct {
	URL           string         `json:"url"`
	FinalURL      string         `json:"final_url,omitempty"`
	OK            bool           `json:"ok"`
	Status        int            `json:"status,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Bytes         int            `json:"bytes,omitempty"`
	Extract       ExtractSummary `json:"extract"`
	Warnings      []string       `json:"warnings,omitempty"`
	WarningCodes  []string       `json:"warning_codes,omitempty"`
	WarningHints  []string       `json:"warning_hints,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// TopChunk is one selected chunk in the pack's cross-URL top_chunks list.
type TopChunk struct {
	URL       string `json:"url"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Score     uint   `json:"score"`
	Text      string `json:"text"`
}

// Selection records the ChunkSelector configuration used to build top_chunks,
// so downstream consumers can tell how the pack was assembled.
type Selection struct {
	Mode  string `json:"mode"`
	TopK  int    `json:"top_k"`
}

// Pack is the full EvidencePack: {schema_version, kind, question,
// question_key, selection, top_chunks, results, arxiv?}.
type Pack struct {
	SchemaVersion int              `json:"schema_version"`
	Kind          string           `json:"kind"`
	Question      string           `json:"question"`
	QuestionKey   string           `json:"question_key"`
	Selection     Selection        `json:"selection"`
	TopChunks     []TopChunk       `json:"top_chunks"`
	Results       []URLResult      `json:"results"`
	Arxiv         interface{}      `json:"arxiv,omitempty"`
}

// warningHints gives a short human-readable hint for each canonical warning
// code, mirroring the apperr hint convention used elsewhere in the module.
var warningHints = map[string]string{
	extract.WarnBodyTruncatedByMaxBytes:      "response body was cut off at the configured byte limit",
	extract.WarnTextTruncatedByMaxChars:      "extracted text was cut off at the configured character limit",
	extract.WarnEmptyExtraction:              "no readable text could be extracted from this page",
	extract.WarnMainContentLowSignal:         "main content extraction produced very little text",
	extract.WarnChunksFilteredLowSignal:      "some chunks were dropped as low-signal boilerplate",
	extract.WarnBlockedByJSChallenge:         "page appears to be behind a JavaScript challenge or CAPTCHA",
	extract.WarnRetriedDueToTruncation:       "fetch was retried with a larger byte limit after truncation",
	extract.WarnTruncationRetryFailed:        "the truncation retry did not complete successfully",
	extract.WarnLinksUnavailable:             "links could not be extracted for this engine/format",
	extract.WarnHeadersUnavailable:           "response headers were not available to record",
	extract.WarnCacheOnly:                    "result was served from cache with no network fetch",
	extract.WarnPartialResults:               "one or more providers failed; results may be incomplete",
	extract.WarnProviderFailover:             "the router fell back to a different search provider",
	extract.WarnTavilyUsed:                   "the Tavily provider supplied this result",
	extract.WarnFirecrawlFallbackOnEmpty:     "Firecrawl fallback was used after an empty extraction",
	extract.WarnFirecrawlFallbackOnLowSignal: "Firecrawl fallback was used after a low-signal extraction",
	extract.WarnFirecrawlAgentic:             "Firecrawl's own agentic crawl mode produced this result",
	extract.WarnUnsafeRequestHeadersDropped:  "sensitive request headers were dropped before the fetch",
	extract.WarnTextUnavailableForPDF:        "PDF text could not be decoded",
}

// Assembler builds a Pack from a question and a slice of agentic records.
type Assembler struct {
	TopChunksCap int
	Mode         chunks.Mode
}

// Assemble projects records into redacted URLResults (in fetch order) and
// computes top_chunks deterministically from the full record set.
func (a Assembler) Assemble(question, questionKey string, records []agentic.Record) Pack {
	topK := a.TopChunksCap
	if topK <= 0 {
		topK = 10
	}
	mode := a.Mode
	if mode == "" {
		mode = chunks.ModeScore
	}

	results := make([]URLResult, 0, len(records))
	var candidates []chunks.Candidate

	for _, rec := range records {
		codes := normalizeCodes(rec.Warnings)
		result := URLResult{
			URL:         rec.URL,
			FinalURL:    rec.FinalURL,
			OK:          rec.OK,
			Status:      rec.Status,
			ContentType: rec.ContentType,
			Bytes:       len(rec.Text),
			Extract: ExtractSummary{
				Engine:    rec.Engine,
				TextChars: len([]rune(rec.Text)),
				Chunks:    len(rec.Chunks),
			},
			Warnings:     codes,
			WarningCodes: codes,
			WarningHints: hintsFor(codes),
			Error:        rec.Error,
		}
		results = append(results, result)

		for _, c := range rec.Chunks {
			candidates = append(candidates, chunks.Candidate{
				URL:           rec.URL,
				StartChar:     c.StartChar,
				EndChar:       c.EndChar,
				Score:         c.Score,
				Text:          c.Text,
				WarningsCount: len(codes),
				CacheHit:      rec.CacheHit,
			})
		}
	}

	selected := chunks.Select(candidates, topK, mode)
	topChunks := dedupeAndCapTopChunks(selected, topK)

	return Pack{
		SchemaVersion: SchemaVersion,
		Kind:          Kind,
		Question:      question,
		QuestionKey:   questionKey,
		Selection:     Selection{Mode: string(mode), TopK: topK},
		TopChunks:     topChunks,
		Results:       results,
	}
}

func normalizeCodes(warnings []string) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, extract.NormalizeWarning(w))
	}
	return out
}

func hintsFor(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if h, ok := warningHints[c]; ok {
			out = append(out, h)
		}
	}
	return out
}

// dedupeAndCapTopChunks enforces the invariant that top_chunks is pairwise
// distinct by (url, start_char, end_char) and bounded to cap entries.
func dedupeAndCapTopChunks(selected []chunks.Candidate, cap int) []TopChunk {
	seen := map[[3]any]bool{}
	out := make([]TopChunk, 0, len(selected))
	for _, c := range selected {
		key := [3]any{c.URL, c.StartChar, c.EndChar}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, TopChunk{URL: c.URL, StartChar: c.StartChar, EndChar: c.EndChar, Score: c.Score, Text: c.Text})
		if len(out) >= cap {
			break
		}
	}
	return out
}
