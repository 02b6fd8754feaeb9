package stats

import (
	"testing"
)

func TestNormalizeQueryKey_NeverPanicsAndIsNormalized(t *testing.T) {
	inputs := []string{
		"", "   ", "Hello World", "Hello---World__Foo/Bar", "日本語 query",
		"MiXeD-Case_123/abc", "!!!", "a\tb\nc\rd", "\x00\x01weird\x02bytes",
	}
	for _, in := range inputs {
		got := NormalizeQueryKey(in)
		for _, r := range got {
			if r == ' ' {
				continue
			}
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
				t.Fatalf("NormalizeQueryKey(%q) = %q contains non ascii-lower-alnum rune %q", in, got, r)
			}
		}
		if got != "" {
			if got[0] == ' ' || got[len(got)-1] == ' ' {
				t.Fatalf("NormalizeQueryKey(%q) = %q not trimmed", in, got)
			}
		}
	}
}

func TestUsageWindow_CapAndOrder(t *testing.T) {
	w := NewUsageWindow(3)
	for i := 0; i < 3+5; i++ {
		w.Push(Outcome{OK: true, CostUnits: float64(i)})
	}
	if w.Len() != 3 {
		t.Fatalf("expected len 3, got %d", w.Len())
	}
	got := w.Outcomes()
	want := []float64{5, 6, 7}
	for i, o := range got {
		if o.CostUnits != want[i] {
			t.Fatalf("index %d: got %v want %v", i, o.CostUnits, want[i])
		}
	}
}

func TestUsageWindow_SetLastJunkLevel(t *testing.T) {
	w := NewUsageWindow(5)
	w.Push(Outcome{OK: true})
	w.Push(Outcome{OK: true})
	w.SetLastJunkLevel(true, false)
	got := w.Outcomes()
	if got[1].Junk != true || got[0].Junk != false {
		t.Fatalf("SetLastJunkLevel annotated the wrong entry: %+v", got)
	}
}

func TestRegistry_PushAndSnapshot_PrefersQueryKeyWhenConfigured(t *testing.T) {
	r := NewRegistry(10, ContextBoth, 100)
	r.Push("brave", Outcome{OK: true}, "golang concurrency")
	r.Push("brave", Outcome{OK: false}, "")

	sums, which := r.SnapshotSummaries("golang concurrency")
	if which != UsedQueryKey {
		t.Fatalf("expected UsedQueryKey, got %v", which)
	}
	if sums["brave"].Calls != 1 || sums["brave"].OK != 1 {
		t.Fatalf("unexpected per-key summary: %+v", sums["brave"])
	}

	sums2, which2 := r.SnapshotSummaries("some other unseen query")
	if which2 != UsedGlobal {
		t.Fatalf("expected fallback to global, got %v", which2)
	}
	if sums2["brave"].Calls != 2 {
		t.Fatalf("expected global to see both calls, got %+v", sums2["brave"])
	}
}

func TestRegistry_LRUEvictsOldestQueryKeyContexts(t *testing.T) {
	r := NewRegistry(5, ContextQueryKey, 2)
	r.Push("p", Outcome{OK: true}, "alpha")
	r.Push("p", Outcome{OK: true}, "beta")
	r.Push("p", Outcome{OK: true}, "gamma") // should evict alpha

	if len(r.byKey) != 2 {
		t.Fatalf("expected exactly 2 retained query-key contexts, got %d", len(r.byKey))
	}
	if _, ok := r.byKey["alpha"]; ok {
		t.Fatalf("expected alpha to be evicted")
	}
	if _, ok := r.byKey["gamma"]; !ok {
		t.Fatalf("expected gamma to be retained")
	}
}

func TestComputeSearchJunkLabel(t *testing.T) {
	cases := []struct {
		hard, soft, total int
		wantJunk, wantHard bool
	}{
		{0, 0, 0, false, false},
		{1, 0, 5, true, true},
		{0, 2, 4, true, false},
		{0, 1, 4, false, false},
		{0, 0, 5, false, false},
	}
	for _, c := range cases {
		junk, hard := ComputeSearchJunkLabel(c.hard, c.soft, c.total)
		if junk != c.wantJunk || hard != c.wantHard {
			t.Fatalf("ComputeSearchJunkLabel(%d,%d,%d) = (%v,%v) want (%v,%v)",
				c.hard, c.soft, c.total, junk, hard, c.wantJunk, c.wantHard)
		}
	}
}

func TestComputeSearchJunkLabel_Property_HardWheneverHardAndTotalPositive(t *testing.T) {
	for total := 1; total <= 6; total++ {
		for hard := 0; hard <= total; hard++ {
			_, hardJunk := ComputeSearchJunkLabel(hard, 0, total)
			if hard > 0 && !hardJunk {
				t.Fatalf("hard=%d total=%d: expected hardJunk=true", hard, total)
			}
		}
	}
	if _, hardJunk := ComputeSearchJunkLabel(3, 0, 0); hardJunk {
		t.Fatalf("total=0 must yield hardJunk=false regardless of hard count")
	}
}
