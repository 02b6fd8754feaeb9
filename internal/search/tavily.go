package search

import (
	"context"
	"fmt"
	"net/http"
)

// Tavily is a capability-shaped arm for the Tavily Search API. See Brave's
// doc comment for why the wire format itself is not implemented here.
type Tavily struct {
	APIKey     string
	HTTPClient *http.Client
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	if t.APIKey == "" {
		return nil, fmt.Errorf("not_configured: tavily api key missing")
	}
	return nil, fmt.Errorf("not_supported: tavily wire format not implemented")
}
