package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// SeedList is the optional static seed-list file schema backing
// web_seed_urls: a flat set of named lists of URLs (and optional priors)
// an operator can check into the repo instead of re-discovering the same
// starting points on every agentic run.
type SeedList struct {
	Lists map[string][]SeedURL `yaml:"lists"`
}

// SeedURL is one seed entry: a URL plus an optional starting relevance
// prior consumed by the agentic frontier.
type SeedURL struct {
	URL   string  `yaml:"url"`
	Prior float64 `yaml:"prior"`
}

// LoadSeedList reads a YAML seed-list file from path. It is the only file
// this package reads besides the environment; there is no .env support and
// no CLI flag to point at it (the caller decides whether to load one, e.g.
// from WEBPIPE_SEED_LIST_FILE).
func LoadSeedList(path string) (SeedList, error) {
	var sl SeedList
	b, err := os.ReadFile(path)
	if err != nil {
		return sl, err
	}
	if err := yaml.Unmarshal(b, &sl); err != nil {
		return sl, fmt.Errorf("parse seed list: %w", err)
	}
	return sl, nil
}

// SeedListPath returns the configured seed-list file path, if any.
func SeedListPath() string {
	return firstNonEmpty("WEBPIPE_SEED_LIST_FILE", "SEED_LIST_FILE")
}
