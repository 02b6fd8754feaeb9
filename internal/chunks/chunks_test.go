package chunks

import "testing"

func TestSelect_ScoreMode_OrdersAndCaps(t *testing.T) {
	cands := []Candidate{
		{URL: "b.example", StartChar: 0, EndChar: 10, Score: 5, Text: "bbb"},
		{URL: "a.example", StartChar: 0, EndChar: 10, Score: 10, Text: "aaa"},
		{URL: "c.example", StartChar: 0, EndChar: 10, Score: 10, Text: "ccc"},
	}
	out := Select(cands, 2, ModeScore)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Score != 10 || out[0].URL != "a.example" {
		t.Fatalf("expected a.example first on tie-break by url, got %+v", out[0])
	}
}

func TestSelect_ScoreMode_Deterministic(t *testing.T) {
	cands := []Candidate{
		{URL: "x", StartChar: 0, EndChar: 5, Score: 3},
		{URL: "x", StartChar: 5, EndChar: 10, Score: 3},
	}
	out1 := Select(cands, 10, ModeScore)
	out2 := Select(cands, 10, ModeScore)
	if out1[0].StartChar != out2[0].StartChar {
		t.Fatalf("expected deterministic ordering across calls")
	}
	if out1[0].StartChar != 0 {
		t.Fatalf("expected start_char tie-break to prefer earlier chunk, got %d", out1[0].StartChar)
	}
}

func TestSelect_ParetoMode_BoundedAndDeduped(t *testing.T) {
	cands := []Candidate{
		{URL: "a", StartChar: 0, EndChar: 10, Score: 10, CacheHit: true, WarningsCount: 0, Text: "aaaaaaaaaa"},
		{URL: "b", StartChar: 0, EndChar: 10, Score: 8, CacheHit: false, WarningsCount: 1, Text: "bbbbbbbbbb"},
		{URL: "c", StartChar: 0, EndChar: 10, Score: 1, CacheHit: false, WarningsCount: 3, Text: "c"},
	}
	out := Select(cands, 2, ModePareto)
	if len(out) > 2 {
		t.Fatalf("expected at most 2 results, got %d", len(out))
	}
	seen := map[string]bool{}
	for _, c := range out {
		k := c.URL
		if seen[k] {
			t.Fatalf("expected no duplicate URLs in output")
		}
		seen[k] = true
	}
}

func TestSelect_ParetoMode_FillsFromScoreOrderWhenFrontierSmall(t *testing.T) {
	// A single dominant candidate leaves a frontier of size 1; Select must
	// still fill remaining slots from score order without duplicating it.
	cands := []Candidate{
		{URL: "dominant", StartChar: 0, EndChar: 5, Score: 100, CacheHit: true, WarningsCount: 0, Text: "aaaaa"},
		{URL: "second", StartChar: 0, EndChar: 5, Score: 50, CacheHit: true, WarningsCount: 0, Text: "bbbbb"},
	}
	out := Select(cands, 2, ModePareto)
	if len(out) != 2 {
		t.Fatalf("expected 2 results filling from score order, got %d", len(out))
	}
}

func TestSelect_EmptyInput(t *testing.T) {
	if out := Select(nil, 5, ModeScore); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}
