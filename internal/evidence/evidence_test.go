package evidence

import (
	"fmt"
	"testing"

	"github.com/hyperifyio/webpipe/internal/agentic"
	"github.com/hyperifyio/webpipe/internal/extract"
)

func TestAssemble_SchemaAndKind(t *testing.T) {
	a := Assembler{TopChunksCap: 5}
	pack := a.Assemble("what is go", "what is go", nil)
	if pack.SchemaVersion != SchemaVersion || pack.Kind != Kind {
		t.Fatalf("expected schema_version=%d kind=%q, got %d/%q", SchemaVersion, Kind, pack.SchemaVersion, pack.Kind)
	}
}

func TestAssemble_TopChunksCapAndDistinctness(t *testing.T) {
	records := []agentic.Record{
		{
			URL: "https://a.example", OK: true,
			Chunks: []extract.Chunk{
				{StartChar: 0, EndChar: 10, Score: 5, Text: "aaa"},
				{StartChar: 10, EndChar: 20, Score: 9, Text: "bbb"},
			},
		},
		{
			URL: "https://b.example", OK: true,
			Chunks: []extract.Chunk{
				{StartChar: 0, EndChar: 10, Score: 7, Text: "ccc"},
			},
		},
	}
	a := Assembler{TopChunksCap: 2}
	pack := a.Assemble("q", "q", records)
	if len(pack.TopChunks) > 2 {
		t.Fatalf("expected top_chunks capped at 2, got %d", len(pack.TopChunks))
	}
	seen := map[string]bool{}
	for _, c := range pack.TopChunks {
		id := fmt.Sprintf("%s:%d:%d", c.URL, c.StartChar, c.EndChar)
		if seen[id] {
			t.Fatalf("expected pairwise distinct top_chunks by (url,start_char,end_char)")
		}
		seen[id] = true
	}
}

func TestAssemble_WarningsNormalizedWithHints(t *testing.T) {
	records := []agentic.Record{
		{URL: "https://a.example", OK: true, Warnings: []string{"no_text_extracted"}},
	}
	a := Assembler{TopChunksCap: 5}
	pack := a.Assemble("q", "q", records)
	if len(pack.Results) != 1 {
		t.Fatalf("expected 1 result")
	}
	r := pack.Results[0]
	if len(r.WarningCodes) != 1 || r.WarningCodes[0] != extract.WarnEmptyExtraction {
		t.Fatalf("expected normalized empty_extraction code, got %v", r.WarningCodes)
	}
	if len(r.WarningHints) != 1 {
		t.Fatalf("expected a hint for the normalized warning code, got %v", r.WarningHints)
	}
}

func TestAssemble_PreservesFetchOrder(t *testing.T) {
	records := []agentic.Record{
		{URL: "https://z.example", OK: true},
		{URL: "https://a.example", OK: true},
	}
	a := Assembler{TopChunksCap: 5}
	pack := a.Assemble("q", "q", records)
	if pack.Results[0].URL != "https://z.example" || pack.Results[1].URL != "https://a.example" {
		t.Fatalf("expected results in fetch order, not sorted, got %+v", pack.Results)
	}
}

func TestAssemble_PreservesErrorOnFailedRecord(t *testing.T) {
	records := []agentic.Record{{URL: "https://a.example", OK: false, Error: "fetch_failed: timeout"}}
	a := Assembler{TopChunksCap: 5}
	pack := a.Assemble("q", "q", records)
	if pack.Results[0].Error == "" {
		t.Fatalf("expected error to be preserved")
	}
}
