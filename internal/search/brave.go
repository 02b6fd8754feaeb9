package search

import (
	"context"
	"fmt"
	"net/http"
)

// Brave is a capability-shaped arm for the Brave Search API. Its wire
// format is a concrete provider detail out of scope for this module; it
// exists so the Router has a real, named arm to budget, constrain, and
// select over. Search returns a not_configured-style error until an APIKey
// is present.
type Brave struct {
	APIKey     string
	HTTPClient *http.Client
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	if b.APIKey == "" {
		return nil, fmt.Errorf("not_configured: brave api key missing")
	}
	return nil, fmt.Errorf("not_supported: brave wire format not implemented")
}
