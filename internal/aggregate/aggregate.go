package aggregate

import (
	"net/url"
	"strings"

	"github.com/hyperifyio/webpipe/internal/search"
)

// MergeAndNormalize folds the Router's "merge" mode arm results into one
// list: it canonicalizes each URL, strips tracking query parameters, and
// drops duplicates that differ only by host case or tracking params, so a
// query answered by several arms doesn't hand the pipeline the same page
// twice under two different-looking URLs.
func MergeAndNormalize(groups [][]search.Result) []search.Result {
	seen := map[string]struct{}{}
	out := make([]search.Result, 0, 64)
	for _, g := range groups {
		for _, r := range g {
			if r.URL == "" {
				continue
			}
			u, err := url.Parse(r.URL)
			if err != nil {
				continue
			}
			normalizeURL(u)
			key := u.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			r.URL = key
			out = append(out, r)
		}
	}
	return out
}

// trackingParams lists query keys that vary per click-through but don't
// change what page is being linked to.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id",
	"gclid", "fbclid", "ref", "src",
}

func normalizeURL(u *url.URL) {
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
}
