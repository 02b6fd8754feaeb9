package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// FileProvider answers Search from a local JSON fixture instead of a network
// API: an array of {"title","url","snippet"} objects. It gives the Router a
// real arm that needs no network, API key, or cache warm-up, so an operator
// can run a fully offline pipeline (a curated corpus, a recorded fixture for
// tests) by pointing WEBPIPE_FILE_SEARCH_PATH at a file and nothing else.
type FileProvider struct {
	Path   string
	Policy DomainPolicy // optional: filter results by domain
}

func (f *FileProvider) Name() string { return "file" }

func (f *FileProvider) Search(_ context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errors.New("file provider path is empty")
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var raw []Result
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		if r.URL == "" || r.Title == "" {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Title), q) && !strings.Contains(strings.ToLower(r.Snippet), q) && !matchesByTokens(q, r.Title+"\n"+r.Snippet) {
			continue
		}
		if blocked := isDomainBlocked(r.URL, f.Policy); blocked {
			continue
		}
		r.Source = f.Name()
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// isDomainBlocked applies policy.Denylist/Allowlist to a result URL's host.
// Denylist takes precedence: a host on both lists is blocked. An empty
// policy blocks nothing.
func isDomainBlocked(rawURL string, policy DomainPolicy) bool {
	if len(policy.Denylist) == 0 && len(policy.Allowlist) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range policy.Denylist {
		if matchesHost(host, d) {
			return true
		}
	}
	if len(policy.Allowlist) == 0 {
		return false
	}
	for _, a := range policy.Allowlist {
		if matchesHost(host, a) {
			return false
		}
	}
	return true
}

// matchesHost reports whether host equals pattern or is a subdomain of it.
func matchesHost(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// matchesByTokens performs a loose token-based match between the query and the
// candidate text. It returns true when at least two meaningful tokens (length
// >= 3) from the query appear in the text, making the file provider usable for
// longer, natural-language queries in tests and offline runs.
func matchesByTokens(query, text string) bool {
	query = strings.ToLower(query)
	text = strings.ToLower(text)
	splitter := regexp.MustCompile(`[^a-z0-9]+`)
	qTokens := splitter.Split(query, -1)
	if len(qTokens) == 0 {
		return false
	}
	meaningful := 0
	for _, tok := range qTokens {
		if len(tok) < 3 { // skip very short/common tokens
			continue
		}
		if strings.Contains(text, tok) {
			meaningful++
			if meaningful >= 2 {
				return true
			}
		}
	}
	return false
}
