package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperifyio/webpipe/internal/arxiv"
	"github.com/hyperifyio/webpipe/internal/cache"
	"github.com/hyperifyio/webpipe/internal/config"
	"github.com/hyperifyio/webpipe/internal/fetch"
	"github.com/hyperifyio/webpipe/internal/router"
	"github.com/hyperifyio/webpipe/internal/search"
	"github.com/hyperifyio/webpipe/internal/stats"
)

type stubProvider struct {
	name    string
	results []search.Result
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) Search(_ context.Context, _ string, _ int) ([]search.Result, error) {
	return p.results, nil
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decodeEnvelope(t *testing.T, raw json.RawMessage) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestBuild_RegistersAllThirteenTools(t *testing.T) {
	reg, err := Build(Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{
		"webpipe_meta", "webpipe_usage", "webpipe_usage_reset",
		"web_seed_urls", "web_seed_search_extract",
		"web_fetch", "web_extract",
		"web_search", "web_search_extract",
		"web_cache_search_extract", "web_deep_research",
		"arxiv_search", "arxiv_enrich",
	}
	for _, name := range want {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected tool %q to be registered", name)
		}
	}
}

func TestFetchTool_RejectsNonHTTPURL(t *testing.T) {
	s := &server{deps: Deps{Fetcher: &fetch.Client{}}}
	def := s.fetchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"url": "ftp://example.com/x"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	env := decodeEnvelope(t, raw)
	if env.OK {
		t.Fatalf("expected ok=false for non-http url")
	}
	if env.Error == nil || env.Error.Code != "invalid_url" {
		t.Fatalf("expected invalid_url error, got %+v", env.Error)
	}
}

func TestFetchTool_NoFetcherConfigured(t *testing.T) {
	s := &server{deps: Deps{}}
	def := s.fetchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"url": "https://example.com"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	env := decodeEnvelope(t, raw)
	if env.OK || env.Error == nil || env.Error.Code != "not_configured" {
		t.Fatalf("expected not_configured error, got %+v", env.Error)
	}
}

func TestFetchTool_NetworkSuccessIncludesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>hello world</p></body></html>"))
	}))
	defer srv.Close()

	s := &server{deps: Deps{
		Fetcher: &fetch.Client{UserAgent: "webpipe-test"},
		Config:  config.Config{MaxBytes: 1 << 16, MaxChars: 1000},
	}}
	def := s.fetchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"url": srv.URL, "include_text": true}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp fetchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, error=%+v", resp.Error)
	}
	if resp.Status != 200 {
		t.Fatalf("unexpected status: %d", resp.Status)
	}
	if resp.Text == "" {
		t.Fatalf("expected extracted text to be populated")
	}
}

func TestSearchTool_CapsResultsPerDomain(t *testing.T) {
	provider := stubProvider{name: "stub", results: []search.Result{
		{Title: "one", URL: "https://same.example/a", Snippet: "aaaaaaaaaa"},
		{Title: "two", URL: "https://same.example/b", Snippet: "aaaaaaaaa"},
		{Title: "three", URL: "https://same.example/c", Snippet: "aaaaaaaa"},
		{Title: "four", URL: "https://same.example/d", Snippet: "aaaaaaa"},
		{Title: "five", URL: "https://other.example/a", Snippet: "aaaaaa"},
	}}
	reg := stats.NewRegistry(16, stats.ContextGlobal, 0)
	rt := &router.Router{Arms: []router.Arm{{Name: "stub", Provider: provider}}, Registry: reg, Weights: router.DefaultWeights()}
	s := &server{deps: Deps{Router: rt}}
	def := s.searchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"query": "test", "provider": "stub"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, error=%+v", resp.Error)
	}
	if len(resp.Results) != 4 {
		t.Fatalf("expected per-domain cap of 3 plus the other-domain result (4 total), got %d: %+v", len(resp.Results), resp.Results)
	}
}

func TestCacheSearchExtractTool_LoadsSavedEntry(t *testing.T) {
	dir := t.TempDir()
	c := &cache.HTTPCache{Dir: dir}
	body := []byte("<html><body><p>the quick brown fox jumps over the lazy dog repeatedly</p></body></html>")
	if err := c.SaveByKey("k1", cache.HTTPEntry{URL: "https://a.example/page", ContentType: "text/html"}, body); err != nil {
		t.Fatalf("SaveByKey: %v", err)
	}

	s := &server{deps: Deps{
		Cache:  c,
		Config: config.Config{MaxChars: 1000, MaxChunkChars: 500, TopChunks: 3},
	}}
	def := s.cacheSearchExtractTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"query_tokens": []string{"fox"}}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp cacheSearchExtractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, error=%+v", resp.Error)
	}
	if resp.EntriesTried != 1 || resp.EntriesUsed != 1 {
		t.Fatalf("expected 1 entry tried/used, got tried=%d used=%d", resp.EntriesTried, resp.EntriesUsed)
	}
	if len(resp.TopChunks) == 0 {
		t.Fatalf("expected at least one selected chunk")
	}
}

func TestCacheSearchExtractTool_NoCacheConfigured(t *testing.T) {
	s := &server{deps: Deps{}}
	def := s.cacheSearchExtractTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	env := decodeEnvelope(t, raw)
	if env.OK || env.Error == nil || env.Error.Code != "not_configured" {
		t.Fatalf("expected not_configured error, got %+v", env.Error)
	}
}

type stubArxivFetcher struct {
	body []byte
	err  error
}

func (f stubArxivFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	if f.err != nil {
		return fetch.Response{}, f.err
	}
	return fetch.Response{Bytes: f.body}, nil
}

const arxivFeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2310.06825v1</id>
    <title>Mistral 7B</title>
    <summary>A 7-billion-parameter language model.</summary>
    <author><name>Albert Q. Jiang</name></author>
    <link href="http://arxiv.org/abs/2310.06825v1" rel="alternate" type="text/html"/>
  </entry>
</feed>`

func TestArxivSearchTool_ReturnsPapers(t *testing.T) {
	s := &server{deps: Deps{Arxiv: &arxiv.Client{Fetcher: stubArxivFetcher{body: []byte(arxivFeedFixture)}}}}
	def := s.arxivSearchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"query": "mistral 7b"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp arxivSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, error=%+v", resp.Error)
	}
	if len(resp.Papers) != 1 || resp.Papers[0].Title != "Mistral 7B" {
		t.Fatalf("unexpected papers: %+v", resp.Papers)
	}
}

func TestArxivEnrichTool_RejectsEmptyID(t *testing.T) {
	s := &server{deps: Deps{Arxiv: &arxiv.Client{Fetcher: stubArxivFetcher{}}}}
	def := s.arxivEnrichTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{"arxiv_id": "  "}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	env := decodeEnvelope(t, raw)
	if env.OK || env.Error == nil || env.Error.Code != "invalid_params" {
		t.Fatalf("expected invalid_params error, got %+v", env.Error)
	}
}

func TestDeepResearchTool_NoLLMConfiguredStillReturnsPack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>evidence about the query subject matter</p></body></html>"))
	}))
	defer srv.Close()

	s := &server{deps: Deps{
		Fetcher: &fetch.Client{UserAgent: "webpipe-test"},
		Config:  config.Config{MaxChars: 2000, MaxChunkChars: 500, TopChunks: 3},
	}}
	def := s.deepResearchTool()
	raw, err := def.Handler(context.Background(), mustRaw(t, map[string]any{
		"query":     "query subject matter",
		"seed_urls": []string{srv.URL},
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var resp deepResearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, error=%+v", resp.Error)
	}
	found := false
	for _, w := range resp.Warnings {
		if w == "synthesis_not_configured" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected synthesis_not_configured warning, got %v", resp.Warnings)
	}
}
