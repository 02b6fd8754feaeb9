// Package agentic implements AgenticLoop: a bounded, per-request state
// machine that fetches and extracts a frontier of URLs seeded from search
// results or caller-supplied seeds, discovers further links from each
// successful page, and stops once a URL or search-round budget is spent.
package agentic

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/webpipe/internal/extract"
	"github.com/hyperifyio/webpipe/internal/fetch"
)

// Fetcher is the subset of fetch.Client's surface the loop depends on, so
// tests can supply a stub.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Searcher is the subset of router.Router's surface the loop depends on for
// the initial seed round and the search-more escape hatch.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) (SearchOutcome, error)
}

// SearchQuery and SearchOutcome are the minimal shapes the loop needs from a
// search round; callers adapt their router.Query/Outcome to these.
type SearchQuery struct {
	Text       string
	MaxResults int
	Mode       string // "auto", "merge", or a specific provider name
}

type SearchOutcome struct {
	URLs []string
}

// Link is a discovered outbound link with its anchor text.
type Link struct {
	URL        string
	AnchorText string
}

// Record is the per-URL outcome of one fetch+extract attempt.
type Record struct {
	URL         string
	FinalURL    string
	OK          bool
	Status      int
	ContentType string
	Engine      string
	Text        string
	Warnings    []string
	Chunks      []extract.Chunk
	CacheHit    bool
	Error       string

	// discoveredLinks is computed from the raw fetched bytes at extraction
	// time, since Text has already had markup stripped out of it.
	discoveredLinks []Link
}

// Options bounds one Run of the loop. All fields are clamped to their
// documented ranges by Clamp before use.
type Options struct {
	MaxURLs                int // [1,10]
	MaxLinks               int
	FrontierMax            int // [50,2000]
	AgenticMaxSearchRounds int // [1,5]
	MaxBytes               int64
	MaxChars               int
	MaxChunkChars          int
	TopChunksPerURL         int
	TimeoutMs              int
	BatchSize              int // concurrent fetch+extract fan-out per round
	QueryTokens            []string
}

// Clamp applies the resource bounds from spec.md §5.
func (o Options) Clamp() Options {
	o.MaxURLs = clampInt(o.MaxURLs, 1, 10)
	o.FrontierMax = clampInt(o.FrontierMax, 50, 2000)
	o.AgenticMaxSearchRounds = clampInt(o.AgenticMaxSearchRounds, 1, 5)
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.MaxLinks <= 0 {
		o.MaxLinks = 20
	}
	return o
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Result is the outcome of a full Run: every per-URL record in fetch order,
// plus whether the loop got stuck and how many search rounds it used.
type Result struct {
	Records        []Record
	SearchRounds   int
	StuckOccurred  bool
}

// Loop runs the AgenticLoop state machine for a single request. A Loop is
// not safe for concurrent Run calls; callers construct one per request.
type Loop struct {
	Fetcher  Fetcher
	Searcher Searcher
	Extract  func(body []byte, opt extract.Options) extract.Document

	frontier    []string
	seen        map[string]bool
	priors      map[string]int
	linkLabels  map[string]string
	insertOrder map[string]int
	nextOrder   int
}

// Run executes Init → SearchOrSeed → (PickFromFrontier → Fetch → Extract →
// Record → DiscoverLinks)* → Done, per spec.md §4.6.
func (l *Loop) Run(ctx context.Context, query string, seedURLs []string, opt Options) Result {
	opt = opt.Clamp()
	l.seen = map[string]bool{}
	l.priors = map[string]int{}
	l.linkLabels = map[string]string{}
	l.insertOrder = map[string]int{}
	l.frontier = nil

	var result Result

	if len(seedURLs) > 0 {
		l.seedFrontier(seedURLs)
	} else if l.Searcher != nil {
		out, err := l.Searcher.Search(ctx, SearchQuery{Text: query, MaxResults: opt.MaxURLs, Mode: "auto"})
		if err == nil {
			l.seedFrontier(out.URLs)
		}
	}
	result.SearchRounds = 1

	stuckStreak := 0
	searchRoundsUsed := 1

	for len(result.Records) < opt.MaxURLs {
		if len(l.frontier) == 0 {
			if searchRoundsUsed >= opt.AgenticMaxSearchRounds {
				break
			}
			more := l.searchMore(ctx, query, opt, searchRoundsUsed)
			searchRoundsUsed++
			result.SearchRounds = searchRoundsUsed
			if !more {
				break
			}
			continue
		}

		batchSize := opt.BatchSize
		remaining := opt.MaxURLs - len(result.Records)
		if batchSize > remaining {
			batchSize = remaining
		}
		picked := l.pickBatch(batchSize)
		if len(picked) == 0 {
			break
		}

		records := l.fetchAndExtractBatch(ctx, picked, query, opt)
		for i, rec := range records {
			result.Records = append(result.Records, rec)
			if isStuck(rec) {
				stuckStreak++
			} else {
				stuckStreak = 0
			}
			if rec.OK {
				l.discoverLinks(picked[i], rec, opt)
			}
			if len(result.Records) >= opt.MaxURLs {
				break
			}
		}

		if stuckStreak >= 2 && searchRoundsUsed < opt.AgenticMaxSearchRounds {
			result.StuckOccurred = true
			l.frontier = nil
			more := l.searchMore(ctx, query, opt, searchRoundsUsed)
			searchRoundsUsed++
			result.SearchRounds = searchRoundsUsed
			stuckStreak = 0
			if !more {
				break
			}
		}
	}

	return result
}

func (l *Loop) seedFrontier(urls []string) {
	for _, u := range urls {
		canon := canonicalizeURL(u)
		if canon == "" || l.seen[canon] {
			continue
		}
		l.seen[canon] = true
		l.frontier = append(l.frontier, u)
		l.insertOrder[u] = l.nextOrder
		l.nextOrder++
	}
}

func (l *Loop) searchMore(ctx context.Context, query string, opt Options, round int) bool {
	if l.Searcher == nil {
		return false
	}
	mode := "merge" // second-round default when requested provider was "auto"
	out, err := l.Searcher.Search(ctx, SearchQuery{Text: query, MaxResults: opt.MaxURLs, Mode: mode})
	if err != nil || len(out.URLs) == 0 {
		return false
	}
	before := len(l.frontier)
	l.seedFrontier(out.URLs)
	return len(l.frontier) > before
}

// pickBatch selects up to n URLs from the frontier using the lexical
// url_score/prior_score Pareto selector, removing them from the frontier.
func (l *Loop) pickBatch(n int) []string {
	if n <= 0 || len(l.frontier) == 0 {
		return nil
	}
	type scored struct {
		url      string
		urlScore int
		prior    int
		order    int
	}
	candidates := make([]scored, 0, len(l.frontier))
	for _, u := range l.frontier {
		candidates = append(candidates, scored{
			url:      u,
			urlScore: urlScore(u),
			prior:    l.priors[u],
			order:    l.insertOrder[u],
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.prior != b.prior {
			return a.prior > b.prior
		}
		if a.urlScore != b.urlScore {
			return a.urlScore > b.urlScore
		}
		return a.order < b.order
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	picked := make([]string, 0, n)
	pickedSet := map[string]bool{}
	for i := 0; i < n; i++ {
		picked = append(picked, candidates[i].url)
		pickedSet[candidates[i].url] = true
	}

	remaining := make([]string, 0, len(l.frontier)-n)
	for _, u := range l.frontier {
		if !pickedSet[u] {
			remaining = append(remaining, u)
		}
	}
	l.frontier = remaining
	return picked
}

// authChallengeTokens penalize URLs that look like login/challenge walls,
// which rarely carry useful content for evidence gathering.
var authChallengeTokens = []string{"login", "signin", "sign-in", "auth", "captcha", "challenge"}

func urlScore(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	path := strings.ToLower(u.Path)
	tokens := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.'
	})
	score := len(tokens)
	for _, t := range tokens {
		for _, bad := range authChallengeTokens {
			if t == bad {
				score -= 4 * len(t)
			}
		}
	}
	return score
}

// fetchAndExtractBatch runs Fetch+Extract for each picked URL concurrently,
// bounded by an errgroup, and returns records in the same order as picked
// (selection order), independent of completion order.
func (l *Loop) fetchAndExtractBatch(ctx context.Context, picked []string, query string, opt Options) []Record {
	records := make([]Record, len(picked))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range picked {
		i, u := i, u
		g.Go(func() error {
			records[i] = l.fetchAndExtractOne(gctx, u, query, opt)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (l *Loop) fetchAndExtractOne(ctx context.Context, rawURL string, query string, opt Options) Record {
	if l.Fetcher == nil {
		return Record{URL: rawURL, OK: false, Error: "not_configured: no fetcher"}
	}
	resp, err := l.Fetcher.Fetch(ctx, fetch.Request{
		URL:       rawURL,
		TimeoutMs: opt.TimeoutMs,
		MaxBytes:  opt.MaxBytes,
		Cache:     fetch.CachePolicy{Read: true, Write: true},
	})
	if err != nil {
		return Record{URL: rawURL, OK: false, Error: err.Error()}
	}

	extractFn := l.Extract
	if extractFn == nil {
		extractFn = extract.Extract
	}
	doc := extractFn(resp.Bytes, extract.Options{ContentType: resp.ContentType, URL: resp.FinalURL, MaxChars: opt.MaxChars})

	chunkWindows := extract.ChunkText(doc.Text, extract.ChunkOptions{
		MaxChunkChars: opt.MaxChunkChars,
		TopChunks:     opt.TopChunksPerURL,
		QueryTokens:   opt.QueryTokens,
	})
	filtered, _ := extract.FilterLowSignalChunks(chunkWindows)

	var links []Link
	switch {
	case strings.HasPrefix(doc.Engine, "html"):
		links = extractHTMLLinks(resp.FinalURL, string(resp.Bytes), opt.MaxLinks)
	case doc.Engine == "markdown" || doc.Engine == "firecrawl":
		links = extractMarkdownLinks(resp.FinalURL, doc.Text, opt.MaxLinks)
	}

	return Record{
		URL:             rawURL,
		FinalURL:        resp.FinalURL,
		OK:              true,
		Status:          resp.Status,
		ContentType:     resp.ContentType,
		Engine:          doc.Engine,
		Text:            doc.Text,
		Warnings:        doc.Warnings,
		Chunks:          filtered,
		CacheHit:        resp.Source == fetch.SourceCache,
		discoveredLinks: links,
	}
}

func isStuck(rec Record) bool {
	if !rec.OK {
		return hasWarning(rec.Warnings, extract.WarnEmptyExtraction) || hasWarning(rec.Warnings, extract.WarnBlockedByJSChallenge)
	}
	if hasWarning(rec.Warnings, extract.WarnEmptyExtraction) || hasWarning(rec.Warnings, extract.WarnBlockedByJSChallenge) {
		return true
	}
	var maxScore uint
	for _, c := range rec.Chunks {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	return maxScore == 0
}

func hasWarning(warnings []string, code string) bool {
	for _, w := range warnings {
		if w == code {
			return true
		}
	}
	return false
}

// discoverLinks extracts outbound links from a successful record's content
// (HTML via golang.org/x/net/html, markdown via a link-scan) and folds them
// into the frontier/priors/link_labels maps.
func (l *Loop) discoverLinks(parentURL string, rec Record, opt Options) {
	if !rec.OK {
		return
	}
	links := rec.discoveredLinks

	parentRelevance := 1
	if p, ok := l.priors[parentURL]; ok && p > parentRelevance {
		parentRelevance = p
	}

	queryTokens := normalizeTokens(opt.QueryTokens)
	for _, link := range links {
		canon := canonicalizeURL(link.URL)
		if canon == "" || l.seen[canon] {
			continue
		}
		l.seen[canon] = true

		hits := linkHits(link, queryTokens)
		priorAdd := parentRelevance * hits
		if cur, ok := l.priors[link.URL]; !ok || priorAdd > cur {
			l.priors[link.URL] = priorAdd
		}

		label := link.AnchorText
		if len(label) > 120 {
			label = label[:120]
		}
		if cur, ok := l.linkLabels[link.URL]; !ok || len(label) > len(cur) {
			l.linkLabels[link.URL] = label
		}

		if len(l.frontier) < opt.FrontierMax {
			l.frontier = append(l.frontier, link.URL)
			if _, ok := l.insertOrder[link.URL]; !ok {
				l.insertOrder[link.URL] = l.nextOrder
				l.nextOrder++
			}
		}
	}
}

func linkHits(link Link, queryTokens map[string]bool) int {
	hits := 0
	anchorLower := strings.ToLower(link.AnchorText)
	urlLower := strings.ToLower(link.URL)
	anchorMatch, urlMatch := false, false
	for tok := range queryTokens {
		if strings.Contains(anchorLower, tok) {
			anchorMatch = true
		}
		if strings.Contains(urlLower, tok) {
			urlMatch = true
		}
	}
	if anchorMatch {
		hits += 2
	} else if urlMatch {
		hits += 1
	}
	if strings.HasSuffix(urlLower, ".pdf") {
		hits += 1
	}
	if hits > 10 {
		hits = 10
	}
	return hits
}

func normalizeTokens(tokens []string) map[string]bool {
	out := map[string]bool{}
	for _, t := range tokens {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower != "" {
			out[lower] = true
		}
	}
	return out
}

func extractHTMLLinks(baseURL, htmlText string, maxLinks int) []Link {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	node, err := html.Parse(strings.NewReader(htmlText))
	if err != nil || node == nil {
		return nil
	}
	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= maxLinks {
			return
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(attr.Val)
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if resolved.Scheme != "http" && resolved.Scheme != "https" {
					continue
				}
				links = append(links, Link{URL: resolved.String(), AnchorText: strings.TrimSpace(anchorText(n))})
			}
		}
		for c := n.FirstChild; c != nil && len(links) < maxLinks; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return links
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// extractMarkdownLinks scans text by hand for [text](url) markdown links;
// conservative by design, matching the teacher's bracketed-link scan rather
// than a full CommonMark parser.
func extractMarkdownLinks(baseURL, text string, maxLinks int) []Link {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	var links []Link
	i := 0
	for i < len(text) && len(links) < maxLinks {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			break
		}
		open += i
		closeBracket := strings.IndexByte(text[open:], ']')
		if closeBracket < 0 {
			break
		}
		closeBracket += open
		if closeBracket+1 >= len(text) || text[closeBracket+1] != '(' {
			i = closeBracket + 1
			continue
		}
		closeParen := strings.IndexByte(text[closeBracket:], ')')
		if closeParen < 0 {
			break
		}
		closeParen += closeBracket

		anchor := text[open+1 : closeBracket]
		rawURL := text[closeBracket+2 : closeParen]
		ref, err := url.Parse(strings.TrimSpace(rawURL))
		if err == nil {
			resolved := base.ResolveReference(ref)
			if resolved.Scheme == "http" || resolved.Scheme == "https" {
				links = append(links, Link{URL: resolved.String(), AnchorText: strings.TrimSpace(anchor)})
			}
		}
		i = closeParen + 1
	}
	return links
}

// canonicalizeURL strips the fragment and lower-cases the host, matching
// internal/select and internal/aggregate's canonicalization idiom.
func canonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
