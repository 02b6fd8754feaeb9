package toolserver

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/hyperifyio/webpipe/internal/extract"
	"github.com/hyperifyio/webpipe/internal/fetch"
	"github.com/hyperifyio/webpipe/internal/llmtools"
)

// validateFetchURL rejects anything that is not a well-formed absolute
// http(s) URL before it ever reaches the Fetcher, so a typo surfaces as
// invalid_url rather than a confusing fetch_failed from deep inside the
// transport.
func validateFetchURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidURL("%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidURL("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return invalidURL("missing host")
	}
	return nil
}

type fetchArgs struct {
	URL                string            `json:"url"`
	TimeoutMs          int               `json:"timeout_ms"`
	MaxBytes           int64             `json:"max_bytes"`
	Headers            map[string]string `json:"headers"`
	IncludeText        bool              `json:"include_text"`
	IncludeHeaders     bool              `json:"include_headers"`
	NoNetwork          bool              `json:"no_network"`
	AllowUnsafeHeaders bool              `json:"allow_unsafe_headers"`
	RetryOnTruncation  bool              `json:"retry_on_truncation"`
}

type fetchResponse struct {
	envelope
	URL                   string            `json:"url"`
	FinalURL              string            `json:"final_url,omitempty"`
	Status                int               `json:"status,omitempty"`
	ContentType           string            `json:"content_type,omitempty"`
	Bytes                 int               `json:"bytes,omitempty"`
	Truncated             bool              `json:"truncated,omitempty"`
	Source                string            `json:"source,omitempty"`
	Headers               map[string]string `json:"headers,omitempty"`
	Text                  string            `json:"text,omitempty"`
	DroppedRequestHeaders []string          `json:"dropped_request_headers,omitempty"`
}

// fetchTool is the bare Fetcher with include-text/include-headers knobs.
func (s *server) fetchTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_fetch",
		SemVer:      "v1.0.0",
		Description: "Fetch a single URL through the cache-first bounded fetcher.",
		JSONSchema: objectSchema(map[string]any{
			"url":                  stringProp("the URL to fetch"),
			"timeout_ms":           intProp("network timeout in milliseconds"),
			"max_bytes":            intProp("maximum response bytes to read"),
			"headers":              map[string]any{"type": "object", "description": "extra request headers"},
			"include_text":         boolProp("run extraction and include the resulting text"),
			"include_headers":      boolProp("include response headers in the result"),
			"no_network":           boolProp("cache-only; a miss returns not_supported"),
			"allow_unsafe_headers": boolProp("permit Authorization/Cookie/Proxy-Authorization headers"),
			"retry_on_truncation":  boolProp("retry once with a larger byte limit if truncated"),
		}, "url"),
		Capabilities: []string{"fetch"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args fetchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_fetch", invalidParams("%v", err), "")
			}
			if strings.TrimSpace(args.URL) == "" {
				return errorResult("web_fetch", invalidParams("url is required"), "")
			}
			if err := validateFetchURL(args.URL); err != nil {
				return errorResult("web_fetch", err, "")
			}
			if s.deps.Fetcher == nil {
				return errorResult("web_fetch", notConfigured("no fetcher configured"), "")
			}
			cfg := s.deps.Config
			timeoutMs := orDefault(args.TimeoutMs, 10000)
			maxBytes := args.MaxBytes
			if maxBytes <= 0 {
				maxBytes = cfg.MaxBytes
			}
			resp, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{
				URL:                args.URL,
				TimeoutMs:          timeoutMs,
				MaxBytes:           maxBytes,
				Headers:            args.Headers,
				Cache:              fetch.CachePolicy{Read: true, Write: true},
				NoNetwork:          args.NoNetwork || cfg.NoNetwork,
				RetryOnTruncation:  args.RetryOnTruncation,
				AllowUnsafeHeaders: args.AllowUnsafeHeaders || cfg.AllowUnsafeHeaders,
			})
			if err != nil {
				return errorResult("web_fetch", err, "check the url and timeout_ms/max_bytes settings")
			}
			out := fetchResponse{
				envelope:              okEnvelope("web_fetch"),
				URL:                   args.URL,
				FinalURL:              resp.FinalURL,
				Status:                resp.Status,
				ContentType:           resp.ContentType,
				Bytes:                 len(resp.Bytes),
				Truncated:             resp.Truncated,
				Source:                string(resp.Source),
				DroppedRequestHeaders: fetch.DroppedHeaders(args.Headers, args.AllowUnsafeHeaders || cfg.AllowUnsafeHeaders),
			}
			if args.IncludeHeaders {
				out.Headers = resp.Headers
			}
			if args.IncludeText {
				doc := extract.Extract(resp.Bytes, extract.Options{ContentType: resp.ContentType, URL: resp.FinalURL, MaxChars: cfg.MaxChars})
				out.Text = doc.Text
			}
			return json.Marshal(out)
		},
	}
}

type extractArgs struct {
	URL           string   `json:"url"`
	TimeoutMs     int      `json:"timeout_ms"`
	MaxBytes      int64    `json:"max_bytes"`
	MaxChars      int      `json:"max_chars"`
	QueryTokens   []string `json:"query_tokens"`
	MaxChunkChars int      `json:"max_chunk_chars"`
	TopChunks     int      `json:"top_chunks"`
}

type extractResponse struct {
	envelope
	URL      string          `json:"url"`
	FinalURL string          `json:"final_url,omitempty"`
	Engine   string          `json:"engine"`
	Text     string          `json:"text,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Chunks   []extract.Chunk `json:"chunks,omitempty"`
}

// extractTool runs Fetch+Extract with optional query-scoped chunking.
func (s *server) extractTool() llmtools.ToolDefinition {
	return llmtools.ToolDefinition{
		StableName:  "web_extract",
		SemVer:      "v1.0.0",
		Description: "Fetch a URL and run content extraction, with optional query-scoped chunking.",
		JSONSchema: objectSchema(map[string]any{
			"url":             stringProp("the URL to fetch and extract"),
			"timeout_ms":      intProp("network timeout in milliseconds"),
			"max_bytes":       intProp("maximum response bytes to read"),
			"max_chars":       intProp("extracted text character cap"),
			"query_tokens":    arrayOfStrings("tokens used to score chunks, omit to skip chunking"),
			"max_chunk_chars": intProp("per-chunk character cap"),
			"top_chunks":      intProp("number of chunks to keep"),
		}, "url"),
		Capabilities: []string{"fetch", "extract"},
		Handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args extractArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("web_extract", invalidParams("%v", err), "")
			}
			if strings.TrimSpace(args.URL) == "" {
				return errorResult("web_extract", invalidParams("url is required"), "")
			}
			if err := validateFetchURL(args.URL); err != nil {
				return errorResult("web_extract", err, "")
			}
			if s.deps.Fetcher == nil {
				return errorResult("web_extract", notConfigured("no fetcher configured"), "")
			}
			cfg := s.deps.Config
			resp, err := s.deps.Fetcher.Fetch(ctx, fetch.Request{
				URL:       args.URL,
				TimeoutMs: orDefault(args.TimeoutMs, 10000),
				MaxBytes:  int64OrDefault(args.MaxBytes, cfg.MaxBytes),
				Cache:     fetch.CachePolicy{Read: true, Write: true},
			})
			if err != nil {
				return errorResult("web_extract", err, "")
			}
			doc := extract.Extract(resp.Bytes, extract.Options{
				ContentType: resp.ContentType, URL: resp.FinalURL,
				MaxChars: orDefault(args.MaxChars, cfg.MaxChars),
			})
			out := extractResponse{
				envelope: okEnvelope("web_extract"),
				URL:      args.URL,
				FinalURL: resp.FinalURL,
				Engine:   doc.Engine,
				Text:     doc.Text,
				Warnings: doc.Warnings,
			}
			if len(args.QueryTokens) > 0 {
				windows := extract.ChunkText(doc.Text, extract.ChunkOptions{
					MaxChunkChars: orDefault(args.MaxChunkChars, cfg.MaxChunkChars),
					TopChunks:     orDefault(args.TopChunks, cfg.TopChunks),
					QueryTokens:   args.QueryTokens,
				})
				filtered, lowSignal := extract.FilterLowSignalChunks(windows)
				out.Chunks = filtered
				if lowSignal {
					out.Warnings = append(out.Warnings, extract.WarnChunksFilteredLowSignal)
				}
			}
			return json.Marshal(out)
		},
	}
}

func int64OrDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
