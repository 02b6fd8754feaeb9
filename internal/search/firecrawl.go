package search

import (
	"context"
	"fmt"
	"net/http"
)

// Firecrawl is a capability-shaped arm for the Firecrawl search+extract API.
// Its JSON wire format is out of scope here (spec.md §1); this type gives
// the Router and the Extractor's firecrawl_fallback_* warnings a concrete
// named collaborator to depend on.
type Firecrawl struct {
	APIKey     string
	HTTPClient *http.Client
}

func (f *Firecrawl) Name() string { return "firecrawl" }

func (f *Firecrawl) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	if f.APIKey == "" {
		return nil, fmt.Errorf("not_configured: firecrawl api key missing")
	}
	return nil, fmt.Errorf("not_supported: firecrawl wire format not implemented")
}

// Agentic signals that Firecrawl's own agentic crawling mode was used to
// produce a result; extraction records this as the firecrawl_agentic
// warning when set by a caller.
func (f *Firecrawl) Agentic() bool { return false }
