// Package chunks implements ChunkSelector: picking the top-K scored text
// chunks across many URLs, deterministically, by plain score or by a
// Pareto-optimal frontier over (score, cache_hit, warnings, length).
package chunks

import "sort"

// Mode selects the ranking strategy.
type Mode string

const (
	ModeScore  Mode = "score"
	ModePareto Mode = "pareto"
)

// Candidate is a ScoredChunk plus the per-URL context needed for ranking:
// which URL it came from, how many warnings that URL's extraction raised,
// and whether the URL's fetch was served from cache.
type Candidate struct {
	URL            string
	StartChar      int
	EndChar        int
	Score          uint
	Text           string
	WarningsCount  int
	CacheHit       bool
}

func (c Candidate) key() [3]any { return [3]any{c.URL, c.StartChar, c.EndChar} }

// Select applies Mode to candidates and returns at most topK results,
// deterministic across repeated calls with the same input.
func Select(candidates []Candidate, topK int, mode Mode) []Candidate {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	switch mode {
	case ModePareto:
		return selectPareto(candidates, topK)
	default:
		return selectByScore(candidates, topK)
	}
}

// selectByScore stable-sorts by (-score, url, start_char) and truncates.
func selectByScore(candidates []Candidate, topK int) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].StartChar < out[j].StartChar
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// selectPareto computes the Pareto-optimal frontier over
// (score, cache_hit, -warnings_count, -text_char_len) maximized, sorts the
// frontier by (-score, warnings_count, -cache_hit, url), then fills any
// remaining slots in pure score order, skipping duplicates already chosen.
func selectPareto(candidates []Candidate, topK int) []Candidate {
	frontierIdx := paretoFrontier(candidates)

	frontier := make([]Candidate, 0, len(frontierIdx))
	for _, i := range frontierIdx {
		frontier = append(frontier, candidates[i])
	}
	sort.SliceStable(frontier, func(i, j int) bool {
		a, b := frontier[i], frontier[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.WarningsCount != b.WarningsCount {
			return a.WarningsCount < b.WarningsCount
		}
		if a.CacheHit != b.CacheHit {
			return a.CacheHit // true (cache hit) sorts before false
		}
		return a.URL < b.URL
	})

	seen := map[[3]any]bool{}
	out := make([]Candidate, 0, topK)
	for _, c := range frontier {
		if len(out) >= topK {
			return out
		}
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}

	if len(out) >= topK {
		return out
	}

	byScore := selectByScore(candidates, len(candidates))
	for _, c := range byScore {
		if len(out) >= topK {
			break
		}
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// paretoFrontier returns indices of candidates not dominated by any other
// candidate under the vector (score, cache_hit, -warnings_count, -len(text))
// maximized on every axis.
func paretoFrontier(candidates []Candidate) []int {
	var frontier []int
	for i, a := range candidates {
		dominated := false
		for j, b := range candidates {
			if i == j {
				continue
			}
			if dominates(b, a) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, i)
		}
	}
	return frontier
}

// dominates reports whether a is at least as good as b on every axis and
// strictly better on at least one, breaking ties by a stable index-free
// comparison so equal candidates never dominate each other.
func dominates(a, b Candidate) bool {
	av := vector(a)
	bv := vector(b)
	betterOrEqual := true
	strictlyBetter := false
	for i := range av {
		if av[i] < bv[i] {
			betterOrEqual = false
			break
		}
		if av[i] > bv[i] {
			strictlyBetter = true
		}
	}
	return betterOrEqual && strictlyBetter
}

func vector(c Candidate) [4]int {
	cacheHit := 0
	if c.CacheHit {
		cacheHit = 1
	}
	return [4]int{int(c.Score), cacheHit, -c.WarningsCount, -len([]rune(c.Text))}
}
