// Package router selects a search provider (or fans out to all configured
// providers) for a query, using deterministic UCB-style bandit scoring over
// the StatsRegistry's observed summaries.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/webpipe/internal/aggregate"
	"github.com/hyperifyio/webpipe/internal/search"
	"github.com/hyperifyio/webpipe/internal/stats"
)

// Mode selects the routing strategy used when the caller asks for "auto".
type Mode string

const (
	ModeFallback Mode = "fallback"
	ModeMerge    Mode = "merge"
	ModeMAB      Mode = "mab"
)

// ErrHTTP429 should be returned (or wrapped) by a Provider when the upstream
// signaled rate limiting; the Router records it as a hard routing signal.
var ErrHTTP429 = errors.New("search provider: http 429")

// ErrHTTP433 is Tavily's "provider unavailable"-style status; seeing it
// triggers a one-time automatic switch to Brave (when configured).
var ErrHTTP433 = errors.New("search provider: http 433")

// Query mirrors spec.md's SearchQuery. MaxResults is clamped to [1,20].
type Query struct {
	Query      string
	MaxResults int
	Language   string
	Country    string
}

// ClampMaxResults bounds max_results to [1,20], defaulting to 10.
func ClampMaxResults(n int) int {
	if n <= 0 {
		return 10
	}
	if n > 20 {
		return 20
	}
	return n
}

// Arm is one selectable provider (a concrete provider, or one SearxNG
// endpoint among several, named "searxng#<i>").
type Arm struct {
	Name      string
	Provider  search.Provider
	CostUnits float64 // cost charged to the stats registry per call
	Budget    float64 // max cumulative cost units before the arm is excluded; 0 = unbounded
}

// Constraints are the hard filters applied to candidate arms before mab/
// fallback scoring. Zero value for a field means "unconstrained".
type Constraints struct {
	MaxJunkRate     float64
	MaxHardJunkRate float64
	MaxHTTP429Rate  float64
	MaxMeanCostUnits float64
}

// Weights are the mab scoring coefficients.
type Weights struct {
	CostWeight     float64
	LatencyWeight  float64
	JunkWeight     float64
	HardJunkWeight float64
	ExplorationC   float64
}

// DefaultWeights mirrors the spec's implied defaults: meaningful penalties
// for cost/latency/junk, and a small exploration bonus.
func DefaultWeights() Weights {
	return Weights{CostWeight: 0.1, LatencyWeight: 0.1, JunkWeight: 1.0, HardJunkWeight: 2.0, ExplorationC: 0.5}
}

// Router selects and invokes providers.
type Router struct {
	Arms        []Arm
	Registry    *stats.Registry
	Weights     Weights
	Constraints Constraints

	// tavilyFailedOnce tracks the one-time automatic Tavily->Brave switch.
	tavilyFailedOnce bool
}

// Outcome describes the result of one Router.Search call for the caller.
type Outcome struct {
	Results         []search.Result
	BackendProvider string // concrete provider name, or "merge"
	Warnings        []string
	Fallback        *FallbackInfo
}

// FallbackInfo records a provider-switch event (e.g. Tavily 433 -> Brave).
type FallbackInfo struct {
	From string
	To   string
	Reason string
}

const epsilon = 1e-12

// Search runs the router in the requested mode against the named provider
// (or "auto"). q.Query, the caller's raw query text, doubles as the query
// key that selects the StatsRegistry's routing context.
func (r *Router) Search(ctx context.Context, q Query, providerName string, autoMode Mode) (Outcome, error) {
	q.MaxResults = ClampMaxResults(q.MaxResults)

	if providerName != "" && providerName != "auto" {
		arm, ok := r.findArm(providerName)
		if !ok {
			return Outcome{}, fmt.Errorf("not_supported: unknown provider %q", providerName)
		}
		results, err := r.callArm(ctx, arm, q)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Results: results, BackendProvider: arm.Name}, nil
	}

	switch autoMode {
	case ModeMerge:
		return r.searchMerge(ctx, q)
	case ModeFallback:
		return r.searchFallback(ctx, q)
	default:
		return r.searchMAB(ctx, q)
	}
}

func (r *Router) findArm(name string) (Arm, bool) {
	for _, a := range r.Arms {
		if a.Name == name {
			return a, true
		}
	}
	return Arm{}, false
}

// callArm invokes one arm and records the outcome (sans junk/hard_junk, which
// downstream extraction annotates later via Registry.SetLastJunkLevel),
// marking a wrapped ErrHTTP429 as a rate-limit signal. Tavily's 433 is
// handled by searchMerge, not here.
func (r *Router) callArm(ctx context.Context, arm Arm, q Query) ([]search.Result, error) {
	start := time.Now()
	results, err := arm.Provider.Search(ctx, q.Query, q.MaxResults)
	elapsed := time.Since(start).Milliseconds()

	o := stats.Outcome{OK: err == nil, ElapsedMs: elapsed, CostUnits: arm.CostUnits}
	if err != nil {
		if errors.Is(err, ErrHTTP429) {
			o.HTTP429 = true
		}
	}
	if r.Registry != nil {
		r.Registry.Push(arm.Name, o, q.Query)
	}
	if err != nil {
		log.Warn().Err(err).Str("provider", arm.Name).Str("query", q.Query).Msg("router: provider call failed")
		return nil, err
	}
	return results, nil
}

func (r *Router) searchMerge(ctx context.Context, q Query) (Outcome, error) {
	groups := make([][]search.Result, 0, len(r.Arms))
	var anyOK bool
	var warnings []string
	for _, arm := range r.Arms {
		results, err := r.callArm(ctx, arm, q)
		if err != nil {
			if errors.Is(err, ErrHTTP433) && !r.tavilyFailedOnce {
				r.tavilyFailedOnce = true
				if brave, ok := r.findArm("brave"); ok {
					warnings = append(warnings, "provider_failover", "tavily_used")
					if bres, berr := r.callArm(ctx, brave, q); berr == nil {
						groups = append(groups, bres)
						anyOK = true
					}
				}
			}
			warnings = appendUnique(warnings, "partial_results")
			continue
		}
		groups = append(groups, results)
		anyOK = true
	}
	merged := aggregate.MergeAndNormalize(groups)
	if !anyOK {
		return Outcome{}, fmt.Errorf("search_failed: all providers failed in merge mode")
	}
	return Outcome{Results: merged, BackendProvider: "merge", Warnings: warnings}, nil
}

func (r *Router) searchFallback(ctx context.Context, q Query) (Outcome, error) {
	candidates := append([]Arm(nil), r.Arms...)
	tried := map[string]bool{}
	localSummaries, _ := r.snapshotOrEmpty(q.Query)

	for len(candidates) > 0 {
		selected, remaining, err := selectOne(candidates, localSummaries, r.Weights, r.Constraints)
		if err != nil {
			return Outcome{}, err
		}
		candidates = remaining
		if tried[selected.Name] {
			continue
		}
		tried[selected.Name] = true

		results, callErr := r.callArm(ctx, selected, q)
		if callErr == nil {
			return Outcome{Results: results, BackendProvider: selected.Name}, nil
		}

		// Update the local copy with the observed failure so the next
		// iteration's scoring reflects it, without mutating the shared registry.
		s := localSummaries[selected.Name]
		s.Calls++
		if errors.Is(callErr, ErrHTTP429) {
			s.HTTP429++
		}
		localSummaries[selected.Name] = s
	}
	return Outcome{}, fmt.Errorf("search_failed: all providers failed in fallback mode")
}

func (r *Router) searchMAB(ctx context.Context, q Query) (Outcome, error) {
	summaries, _ := r.snapshotOrEmpty(q.Query)
	selected, _, err := selectOne(append([]Arm(nil), r.Arms...), summaries, r.Weights, r.Constraints)
	if err != nil {
		return Outcome{}, err
	}
	results, err := r.callArm(ctx, selected, q)
	if err != nil {
		return Outcome{}, fmt.Errorf("search_failed: %w", err)
	}
	return Outcome{Results: results, BackendProvider: selected.Name}, nil
}

func (r *Router) snapshotOrEmpty(queryKey string) (map[string]stats.Summary, stats.WhichContext) {
	if r.Registry == nil {
		return map[string]stats.Summary{}, stats.UsedGlobal
	}
	return r.Registry.SnapshotSummaries(queryKey)
}

// selectOne applies the budget filter, then the hard constraint filter,
// scores the survivors, and returns the winner plus the remaining candidates
// (for fallback's retry loop). If every arm is over budget it reports
// not_supported; if the constraints would exclude every arm within budget,
// the constraints are dropped instead, so constraints give way before the
// budget filter does.
func selectOne(candidates []Arm, summaries map[string]stats.Summary, w Weights, c Constraints) (Arm, []Arm, error) {
	if len(candidates) == 0 {
		return Arm{}, nil, fmt.Errorf("not_supported: no provider arms configured")
	}

	pool := filterBudget(candidates, summaries)
	if len(pool) == 0 {
		return Arm{}, nil, fmt.Errorf("not_supported: every provider arm is over its budget")
	}

	constrained := filterConstraints(pool, summaries, c)
	if len(constrained) == 0 {
		constrained = pool // all candidates violate: relax constraints deterministically
	}
	if len(constrained) == 0 {
		return Arm{}, nil, fmt.Errorf("not_supported: no provider arms survive budget/constraint filtering")
	}

	winner := pickByScore(constrained, summaries, w)
	remaining := make([]Arm, 0, len(candidates)-1)
	for _, a := range candidates {
		if a.Name != winner.Name {
			remaining = append(remaining, a)
		}
	}
	return winner, remaining, nil
}

func filterBudget(candidates []Arm, summaries map[string]stats.Summary) []Arm {
	out := make([]Arm, 0, len(candidates))
	for _, a := range candidates {
		if a.Budget <= 0 {
			out = append(out, a)
			continue
		}
		spent := summaries[a.Name].CostUnits
		if spent <= a.Budget {
			out = append(out, a)
		}
	}
	return out
}

func filterConstraints(candidates []Arm, summaries map[string]stats.Summary, c Constraints) []Arm {
	out := make([]Arm, 0, len(candidates))
	for _, a := range candidates {
		s := summaries[a.Name]
		if c.MaxJunkRate > 0 && s.JunkRate() > c.MaxJunkRate {
			continue
		}
		if c.MaxHardJunkRate > 0 && s.HardJunkRate() > c.MaxHardJunkRate {
			continue
		}
		if c.MaxHTTP429Rate > 0 && s.HTTP429Rate() > c.MaxHTTP429Rate {
			continue
		}
		if c.MaxMeanCostUnits > 0 && s.MeanCostUnits() > c.MaxMeanCostUnits {
			continue
		}
		out = append(out, a)
	}
	return out
}

// pickByScore implements the deterministic UCB-style score plus the
// documented tie-break chain. Candidate order is preserved from the input
// slice so "earlier position in the caller-supplied order" is well-defined.
func pickByScore(candidates []Arm, summaries map[string]stats.Summary, w Weights) Arm {
	totalCalls := 0
	for _, a := range candidates {
		totalCalls += summaries[a.Name].Calls
	}

	type scored struct {
		arm   Arm
		score float64
		s     stats.Summary
		pos   int
	}
	scoredArms := make([]scored, 0, len(candidates))
	for i, a := range candidates {
		s := summaries[a.Name]
		base := s.OKRate() - w.CostWeight*s.MeanCostUnits() - w.LatencyWeight*(s.MeanLatencyMs()/1000) -
			w.JunkWeight*s.JunkRate() - w.HardJunkWeight*s.HardJunkRate()
		var exploration float64
		if s.Calls == 0 {
			exploration = w.ExplorationC
		} else {
			exploration = w.ExplorationC * math.Sqrt(math.Log(float64(totalCalls+1))/float64(s.Calls))
		}
		scoredArms = append(scoredArms, scored{arm: a, score: base + exploration, s: s, pos: i})
	}

	sort.SliceStable(scoredArms, func(i, j int) bool {
		a, b := scoredArms[i], scoredArms[j]
		if math.Abs(a.score-b.score) > epsilon {
			return a.score > b.score
		}
		if a.s.HardJunkRate() != b.s.HardJunkRate() {
			return a.s.HardJunkRate() < b.s.HardJunkRate()
		}
		if a.s.JunkRate() != b.s.JunkRate() {
			return a.s.JunkRate() < b.s.JunkRate()
		}
		if a.s.HTTP429Rate() != b.s.HTTP429Rate() {
			return a.s.HTTP429Rate() < b.s.HTTP429Rate()
		}
		if a.s.MeanCostUnits() != b.s.MeanCostUnits() {
			return a.s.MeanCostUnits() < b.s.MeanCostUnits()
		}
		if a.s.MeanLatencyMs() != b.s.MeanLatencyMs() {
			return a.s.MeanLatencyMs() < b.s.MeanLatencyMs()
		}
		return a.pos < b.pos
	})
	return scoredArms[0].arm
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
