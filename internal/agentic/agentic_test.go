package agentic

import (
	"context"
	"testing"

	"github.com/hyperifyio/webpipe/internal/fetch"
)

type stubFetcher struct {
	pages map[string]fetch.Response
}

func (s *stubFetcher) Fetch(_ context.Context, req fetch.Request) (fetch.Response, error) {
	resp, ok := s.pages[req.URL]
	if !ok {
		return fetch.Response{}, errNotFound
	}
	return resp, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "fetch_failed: not found" }

func htmlResponse(body string) fetch.Response {
	return fetch.Response{FinalURL: "https://example.com/start", Status: 200, ContentType: "text/html", Bytes: []byte(body)}
}

func TestLoop_SeedsFrontierAndRecordsSeeds(t *testing.T) {
	pages := map[string]fetch.Response{
		"https://example.com/a": htmlResponse(`<html><body><main><p>Apple content about bananas and apples, long enough to pass the minimum signal check comfortably here.</p><a href="/b">More about apples</a></main></body></html>`),
	}
	loop := &Loop{Fetcher: &stubFetcher{pages: pages}}
	res := loop.Run(context.Background(), "apple", []string{"https://example.com/a"}, Options{MaxURLs: 1, BatchSize: 1, MaxBytes: 1 << 16, MaxChars: 10000, MaxChunkChars: 2000, TopChunksPerURL: 3, TimeoutMs: 1000})
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	if !res.Records[0].OK {
		t.Fatalf("expected ok=true, got %+v", res.Records[0])
	}
}

func TestLoop_DiscoversLinksAndContinues(t *testing.T) {
	pageA := `<html><body><main><p>Apple content about bananas, with enough length here to clear the minimum signal threshold comfortably in this test fixture.</p><a href="https://example.com/b">apple page two</a></main></body></html>`
	pageB := `<html><body><main><p>Another apple page with distinct content, also long enough to pass the minimum signal threshold for this extraction test.</p></main></body></html>`
	pages := map[string]fetch.Response{
		"https://example.com/a": {FinalURL: "https://example.com/a", Status: 200, ContentType: "text/html", Bytes: []byte(pageA)},
		"https://example.com/b": {FinalURL: "https://example.com/b", Status: 200, ContentType: "text/html", Bytes: []byte(pageB)},
	}
	loop := &Loop{Fetcher: &stubFetcher{pages: pages}}
	res := loop.Run(context.Background(), "apple", []string{"https://example.com/a"}, Options{
		MaxURLs: 2, BatchSize: 1, MaxBytes: 1 << 16, MaxChars: 10000, MaxChunkChars: 2000,
		TopChunksPerURL: 3, TimeoutMs: 1000, MaxLinks: 10, QueryTokens: []string{"apple"},
	})
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records (seed + discovered link), got %d: %+v", len(res.Records), res.Records)
	}
}

func TestLoop_TerminatesOnMaxURLs(t *testing.T) {
	pages := map[string]fetch.Response{
		"https://example.com/a": htmlResponse(`<html><body><main><p>content</p></main></body></html>`),
	}
	loop := &Loop{Fetcher: &stubFetcher{pages: pages}}
	res := loop.Run(context.Background(), "q", []string{"https://example.com/a"}, Options{MaxURLs: 1, BatchSize: 5, MaxBytes: 1024, MaxChars: 1000, MaxChunkChars: 500, TopChunksPerURL: 1, TimeoutMs: 1000})
	if len(res.Records) > 1 {
		t.Fatalf("expected termination at max_urls=1, got %d records", len(res.Records))
	}
}

func TestLoop_FetchFailureRecordsNotOK(t *testing.T) {
	loop := &Loop{Fetcher: &stubFetcher{pages: map[string]fetch.Response{}}}
	res := loop.Run(context.Background(), "q", []string{"https://example.com/missing"}, Options{MaxURLs: 1, BatchSize: 1, MaxBytes: 1024, MaxChars: 1000, MaxChunkChars: 500, TopChunksPerURL: 1, TimeoutMs: 1000})
	if len(res.Records) != 1 || res.Records[0].OK {
		t.Fatalf("expected one failed record, got %+v", res.Records)
	}
}

func TestOptions_ClampBoundsResourceLimits(t *testing.T) {
	o := Options{MaxURLs: 999, FrontierMax: 1, AgenticMaxSearchRounds: 99}.Clamp()
	if o.MaxURLs != 10 {
		t.Fatalf("expected max_urls clamped to 10, got %d", o.MaxURLs)
	}
	if o.FrontierMax != 50 {
		t.Fatalf("expected frontier_max clamped to 50, got %d", o.FrontierMax)
	}
	if o.AgenticMaxSearchRounds != 5 {
		t.Fatalf("expected agentic_max_search_rounds clamped to 5, got %d", o.AgenticMaxSearchRounds)
	}
}

func TestCanonicalizeURL_StripsFragment(t *testing.T) {
	if got := canonicalizeURL("https://Example.com/path#section"); got != "https://example.com/path" {
		t.Fatalf("expected fragment stripped and host lowercased, got %q", got)
	}
}
