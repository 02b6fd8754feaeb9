package selecter

import (
	"net/url"
	"sort"
	"strings"

	"github.com/hyperifyio/webpipe/internal/search"
)

// Options configures selection constraints for web_search's result diversity
// pass: a global cap, a per-domain cap, and two ranking nudges applied
// before the caps are enforced.
type Options struct {
	MaxTotal      int
	PerDomain     int
	PreferPrimary bool   // rank root/landing pages above deep links from the same domain
	PreferredLanguage string // rank results whose Language matches first; ignored when empty
}

// Select applies diversity-aware selection with per-domain caps: ranks by
// PreferredLanguage, then PreferPrimary, then snippet length (a cheap proxy
// for how much signal a result carries), then drops anything past PerDomain
// hits for its host or past MaxTotal overall.
func Select(results []search.Result, opt Options) []search.Result {
	if opt.MaxTotal <= 0 {
		opt.MaxTotal = 10
	}
	if opt.PerDomain <= 0 {
		opt.PerDomain = 3
	}
	// Normalize by URL host and dedupe by canonical URL string
	domainCounts := map[string]int{}
	seenURL := map[string]struct{}{}

	sorted := make([]search.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if opt.PreferredLanguage != "" {
			li := strings.EqualFold(sorted[i].Language, opt.PreferredLanguage)
			lj := strings.EqualFold(sorted[j].Language, opt.PreferredLanguage)
			if li != lj {
				return li
			}
		}
		if opt.PreferPrimary {
			pi := isPrimaryPage(sorted[i].URL)
			pj := isPrimaryPage(sorted[j].URL)
			if pi != pj {
				return pi
			}
		}
		return len(sorted[i].Snippet) > len(sorted[j].Snippet)
	})

	out := make([]search.Result, 0, opt.MaxTotal)
	for _, r := range sorted {
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || u.Host == "" {
			continue
		}
		canon := canonicalizeURL(u)
		if _, ok := seenURL[canon]; ok {
			continue
		}
		host := strings.ToLower(u.Host)
		if domainCounts[host] >= opt.PerDomain {
			continue
		}
		seenURL[canon] = struct{}{}
		domainCounts[host]++
		out = append(out, r)
		if len(out) >= opt.MaxTotal {
			break
		}
	}
	return out
}

// isPrimaryPage reports whether raw looks like a site's root or landing
// page (empty path) rather than a deep link.
func isPrimaryPage(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.Trim(u.Path, "/") == ""
}

func canonicalizeURL(u *url.URL) string {
	// drop fragments and default ports; lower-case host
	u2 := *u
	u2.Fragment = ""
	u2.Host = strings.ToLower(u2.Host)
	if (u2.Scheme == "http" && strings.HasSuffix(u2.Host, ":80")) || (u2.Scheme == "https" && strings.HasSuffix(u2.Host, ":443")) {
		host := u2.Hostname()
		u2.Host = host
	}
	return u2.String()
}
