// Package arxiv implements the arxiv_search and arxiv_enrich tools: a thin
// client over the public arXiv Atom export API, used as one concrete,
// testable instance of the "structured paper search" capability.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/hyperifyio/webpipe/internal/fetch"
)

// DefaultBaseURL is arXiv's public export endpoint.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// Fetcher is the subset of fetch.Client's surface this package depends on.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// Paper is one normalized arXiv entry.
type Paper struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Authors   []string `json:"authors"`
	Published string   `json:"published,omitempty"`
	Updated   string   `json:"updated,omitempty"`
	AbsURL    string   `json:"abs_url"`
	PDFURL    string   `json:"pdf_url,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Client queries the arXiv export API through a bounded Fetcher so search
// and enrich calls inherit the same cache, timeout, and byte-limit policy
// as every other network operation in the module.
type Client struct {
	Fetcher   Fetcher
	BaseURL   string
	TimeoutMs int
	MaxBytes  int64
	UserAgent string
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

// Search runs a free-text query against the arXiv export API and returns up
// to maxResults normalized papers in feed order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("invalid_params: empty query")
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 50 {
		maxResults = 50
	}
	q := url.Values{}
	q.Set("search_query", "all:"+query)
	q.Set("start", "0")
	q.Set("max_results", fmt.Sprintf("%d", maxResults))
	return c.fetchFeed(ctx, c.baseURL()+"?"+q.Encode())
}

// Enrich re-fetches a single paper's Atom record by its arXiv ID (e.g.
// "2310.06825" or "2310.06825v2") and returns its normalized metadata.
func (c *Client) Enrich(ctx context.Context, arxivID string) (Paper, error) {
	arxivID = strings.TrimSpace(arxivID)
	if arxivID == "" {
		return Paper{}, fmt.Errorf("invalid_params: empty arxiv id")
	}
	q := url.Values{}
	q.Set("id_list", arxivID)
	papers, err := c.fetchFeed(ctx, c.baseURL()+"?"+q.Encode())
	if err != nil {
		return Paper{}, err
	}
	if len(papers) == 0 {
		return Paper{}, fmt.Errorf("not_supported: no entry found for arxiv id %q", arxivID)
	}
	return papers[0], nil
}

func (c *Client) fetchFeed(ctx context.Context, fetchURL string) ([]Paper, error) {
	if c.Fetcher == nil {
		return nil, fmt.Errorf("not_configured: arxiv client has no fetcher")
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	timeoutMs := c.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}
	resp, err := c.Fetcher.Fetch(ctx, fetch.Request{
		URL:       fetchURL,
		TimeoutMs: timeoutMs,
		MaxBytes:  maxBytes,
		Headers:   map[string]string{"User-Agent": c.UserAgent},
		Cache:     fetch.CachePolicy{Read: true, Write: true, TTLS: 3600},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch_failed: %w", err)
	}
	return parseAtomFeed(resp.Bytes)
}

// atomFeed and atomEntry mirror only the elements webpipe needs from the
// arXiv Atom response; unrecognized elements are ignored by encoding/xml.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
	Category  []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// parseAtomFeed decodes the arXiv Atom XML into normalized Papers, trimming
// whitespace that the feed wraps around multi-line title/summary text.
func parseAtomFeed(body []byte) ([]Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("unexpected_error: parse arxiv atom feed: %w", err)
	}
	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		authors := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			name := strings.TrimSpace(a.Name)
			if name != "" {
				authors = append(authors, name)
			}
		}
		categories := make([]string, 0, len(e.Category))
		for _, c := range e.Category {
			if c.Term != "" {
				categories = append(categories, c.Term)
			}
		}
		var absURL, pdfURL string
		for _, l := range e.Links {
			switch {
			case l.Type == "application/pdf" || strings.HasSuffix(l.Href, ".pdf"):
				pdfURL = l.Href
			case l.Rel == "alternate":
				absURL = l.Href
			}
		}
		if absURL == "" {
			absURL = strings.TrimSpace(e.ID)
		}
		papers = append(papers, Paper{
			ID:         lastPathSegment(e.ID),
			Title:      collapseLineBreaks(e.Title),
			Summary:    collapseLineBreaks(e.Summary),
			Authors:    authors,
			Published:  e.Published,
			Updated:    e.Updated,
			AbsURL:     absURL,
			PDFURL:     pdfURL,
			Categories: categories,
		})
	}
	return papers, nil
}

func lastPathSegment(raw string) string {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndexByte(raw, '/')
	if idx < 0 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}

func collapseLineBreaks(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}
