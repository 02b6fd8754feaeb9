package router

import (
	"fmt"
	"net/http"

	"github.com/hyperifyio/webpipe/internal/search"
)

// BuildSearxNGArms turns one or more configured SearxNG endpoints into
// deterministically-named arms: a single endpoint is named "searxng", and
// multiple endpoints are named "searxng#0", "searxng#1", ... in the order
// given.
func BuildSearxNGArms(endpoints []string, apiKey string, httpClient *http.Client) []Arm {
	if len(endpoints) == 0 {
		return nil
	}
	if len(endpoints) == 1 {
		return []Arm{{
			Name:     "searxng",
			Provider: &search.SearxNG{BaseURL: endpoints[0], APIKey: apiKey, HTTPClient: httpClient},
		}}
	}
	arms := make([]Arm, 0, len(endpoints))
	for i, ep := range endpoints {
		arms = append(arms, Arm{
			Name:     fmt.Sprintf("searxng#%d", i),
			Provider: &search.SearxNG{BaseURL: ep, APIKey: apiKey, HTTPClient: httpClient},
		})
	}
	return arms
}
