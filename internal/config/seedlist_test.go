package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedList_ParsesNamedLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	content := []byte("lists:\n  golang:\n    - url: https://go.dev\n      prior: 2.5\n    - url: https://pkg.go.dev\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	sl, err := LoadSeedList(path)
	if err != nil {
		t.Fatalf("LoadSeedList: %v", err)
	}
	urls := sl.Lists["golang"]
	if len(urls) != 2 || urls[0].URL != "https://go.dev" || urls[0].Prior != 2.5 {
		t.Fatalf("unexpected parsed seed list: %+v", urls)
	}
}

func TestLoadSeedList_MissingFileReturnsError(t *testing.T) {
	if _, err := LoadSeedList(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing seed list file")
	}
}

func TestSeedListPath_ReadsPrefixedEnvVar(t *testing.T) {
	t.Setenv("WEBPIPE_SEED_LIST_FILE", "/tmp/seeds.yaml")
	if got := SeedListPath(); got != "/tmp/seeds.yaml" {
		t.Fatalf("expected configured path, got %q", got)
	}
}
