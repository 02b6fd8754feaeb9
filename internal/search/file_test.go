package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, results []Result) string {
	t.Helper()
	b, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	p := filepath.Join(t.TempDir(), "fixture.json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return p
}

func TestFileProvider_Search_MatchesQueryTokens(t *testing.T) {
	path := writeFixture(t, []Result{
		{Title: "Mistral 7B release notes", URL: "https://example.com/mistral", Snippet: "a 7 billion parameter language model"},
		{Title: "unrelated", URL: "https://example.com/other", Snippet: "nothing relevant here"},
	})
	p := &FileProvider{Path: path}
	got, err := p.Search(context.Background(), "mistral language model", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://example.com/mistral" {
		t.Fatalf("expected one matching result, got %+v", got)
	}
	if got[0].Source != "file" {
		t.Fatalf("expected Source to be stamped with provider name, got %q", got[0].Source)
	}
}

func TestFileProvider_Search_AppliesDenylist(t *testing.T) {
	path := writeFixture(t, []Result{
		{Title: "blocked", URL: "https://blocked.example/page", Snippet: "blocked host"},
		{Title: "allowed", URL: "https://ok.example/page", Snippet: "allowed host"},
	})
	p := &FileProvider{Path: path, Policy: DomainPolicy{Denylist: []string{"blocked.example"}}}
	got, err := p.Search(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://ok.example/page" {
		t.Fatalf("expected denylisted host to be filtered out, got %+v", got)
	}
}

func TestFileProvider_Search_EmptyPathErrors(t *testing.T) {
	p := &FileProvider{}
	if _, err := p.Search(context.Background(), "q", 5); err == nil {
		t.Fatalf("expected an error for an unconfigured path")
	}
}
