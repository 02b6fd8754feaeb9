package extract

import (
	"sort"
	"strings"
	"unicode"
)

// Chunk is a single scored window of extracted text, addressable by its
// char offsets within the parent Document's Text.
type Chunk struct {
	StartChar int
	EndChar   int
	Score     uint
	Text      string
}

// ChunkOptions bounds the sliding-window chunker.
type ChunkOptions struct {
	MaxChunkChars int
	TopChunks     int
	QueryTokens   []string
}

// ChunkText windows text into runs of up to MaxChunkChars characters, scores
// each window against QueryTokens with a deterministic token-overlap +
// position prior, and keeps the top TopChunks by score (ties broken by
// earlier start_char).
func ChunkText(text string, opt ChunkOptions) []Chunk {
	maxChars := opt.MaxChunkChars
	if maxChars <= 0 {
		maxChars = 2000
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var windows []Chunk
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunkText := string(runes[start:end])
		windows = append(windows, Chunk{StartChar: start, EndChar: end, Text: chunkText})
	}

	tokens := normalizeQueryTokens(opt.QueryTokens)
	total := len(windows)
	for i := range windows {
		windows[i].Score = scoreChunk(windows[i].Text, tokens, i, total)
	}

	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].Score != windows[j].Score {
			return windows[i].Score > windows[j].Score
		}
		return windows[i].StartChar < windows[j].StartChar
	})

	topK := opt.TopChunks
	if topK <= 0 || topK > len(windows) {
		topK = len(windows)
	}
	kept := windows[:topK]

	// restore start_char order for downstream consumers expecting document order
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].StartChar < kept[j].StartChar })
	return kept
}

func normalizeQueryTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := map[string]bool{}
	for _, t := range tokens {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}

// scoreChunk computes a deterministic token-overlap count plus a position
// prior that favors earlier chunks (where a document's lede usually sits).
func scoreChunk(text string, queryTokens []string, index, total int) uint {
	lower := strings.ToLower(text)
	var overlap uint
	for _, tok := range queryTokens {
		overlap += uint(strings.Count(lower, tok))
	}
	var positionPrior uint
	if total > 1 {
		// earlier chunks get up to +3, later chunks +0
		positionPrior = uint(3 - (3*index)/(total-1))
	} else {
		positionPrior = 3
	}
	return overlap*10 + positionPrior
}

// FilterLowSignalChunks drops chunks matching "bundle gunk" heuristics (JS
// hydration payloads) or with an alphabetic+space ratio under 1/3 for
// chunks >= 120 chars. Never empties the list: if filtering would remove
// everything, the pre-filter list is returned unchanged. The bool reports
// whether any chunk was judged low-signal, including in that case.
func FilterLowSignalChunks(chunks []Chunk) ([]Chunk, bool) {
	if len(chunks) == 0 {
		return chunks, false
	}
	filtered := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if isLowSignalChunk(c.Text) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return chunks, true
	}
	return filtered, len(filtered) != len(chunks)
}

func isLowSignalChunk(text string) bool {
	if looksLikeBundleGunk(text) {
		return true
	}
	if len([]rune(text)) >= 120 && alphaSpaceRatio(text) < 1.0/3.0 {
		return true
	}
	return false
}

func looksLikeBundleGunk(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"webpackjsonp", "__next_f.push", "hydrationdata", "function(e,t,n)", "!function(", "{\"props\":{\"pagein"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func alphaSpaceRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	var count int
	for _, r := range runes {
		if unicode.IsLetter(r) || r == ' ' {
			count++
		}
	}
	return float64(count) / float64(len(runes))
}
