// Package config reads process configuration from the environment,
// following the precedence and parsing style of the teacher's env-driven
// config loader: explicit struct fields win over env, env wins over
// built-in defaults, and parsing is permissive and fails open to the
// default. No .env file loading and no CLI flag parsing are implemented.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
)

// RoutingContext selects which UsageWindow the Router reads.
type RoutingContext string

const (
	RoutingGlobal   RoutingContext = "global"
	RoutingQueryKey RoutingContext = "query_key"
	RoutingBoth     RoutingContext = "both"
)

// Config holds every WEBPIPE_*-controlled knob the process reads at start.
type Config struct {
	CacheDir string

	SearxURL string
	SearxKey string
	BraveKey string
	TavilyKey string
	FirecrawlKey string
	FileSearchPath string

	CacheMaxAgeSeconds int64
	CacheMaxBytes      int64
	CacheMaxCount      int

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	RoutingContext     RoutingContext
	RoutingMaxContexts int

	AllowUnsafeHeaders bool
	HonorRobots        bool
	NoNetwork          bool

	MaxResults             int
	MaxURLs                int
	MaxBytes               int64
	MaxChars               int
	MaxChunkChars          int
	TopChunks              int
	MaxLinks               int
	FrontierMax            int
	AgenticMaxSearchRounds int
	PlannerMaxCalls        int
}

// Defaults returns the built-in defaults before env/explicit overrides.
func Defaults() Config {
	return Config{
		CacheDir:               "./.webpipe-cache",
		RoutingContext:         RoutingBoth,
		RoutingMaxContexts:     512,
		MaxResults:             10,
		MaxURLs:                5,
		MaxBytes:               1 << 20,
		MaxChars:               20000,
		MaxChunkChars:          2000,
		TopChunks:              10,
		MaxLinks:               20,
		FrontierMax:            200,
		AgenticMaxSearchRounds: 1,
		PlannerMaxCalls:        0,
	}
}

// Load starts from Defaults, applies environment overrides (WEBPIPE_* with
// a fallback to legacy unprefixed names shared with the teacher), and
// returns the result. Explicit values already set on cfg are never
// overwritten by env.
func Load() Config {
	cfg := Defaults()
	ApplyEnv(&cfg)
	return cfg
}

// ApplyEnv populates unset fields of cfg from the environment. Explicit
// cfg values (non-zero and different from the built-in default) take
// precedence over env.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	orig := *cfg
	defer func() {
		def := reflect.ValueOf(Defaults())
		o := reflect.ValueOf(orig)
		dst := reflect.ValueOf(cfg).Elem()
		for i := 0; i < o.NumField(); i++ {
			f := o.Field(i)
			if !f.IsZero() && !reflect.DeepEqual(f.Interface(), def.Field(i).Interface()) {
				dst.Field(i).Set(f)
			}
		}
	}()

	if cfg.CacheDir == "" || cfg.CacheDir == Defaults().CacheDir {
		if v := firstNonEmpty("WEBPIPE_CACHE_DIR", "CACHE_DIR"); v != "" {
			cfg.CacheDir = v
		}
	}

	if cfg.SearxURL == "" {
		cfg.SearxURL = firstNonEmpty("WEBPIPE_SEARXNG_URL", "SEARXNG_URL", "SEARX_URL")
	}
	if cfg.SearxKey == "" {
		cfg.SearxKey = firstNonEmpty("WEBPIPE_SEARXNG_KEY", "SEARXNG_KEY", "SEARX_KEY")
	}
	if cfg.BraveKey == "" {
		cfg.BraveKey = firstNonEmpty("WEBPIPE_BRAVE_API_KEY", "BRAVE_API_KEY")
	}
	if cfg.TavilyKey == "" {
		cfg.TavilyKey = firstNonEmpty("WEBPIPE_TAVILY_API_KEY", "TAVILY_API_KEY")
	}
	if cfg.FirecrawlKey == "" {
		cfg.FirecrawlKey = firstNonEmpty("WEBPIPE_FIRECRAWL_API_KEY", "FIRECRAWL_API_KEY")
	}
	if cfg.FileSearchPath == "" {
		cfg.FileSearchPath = firstNonEmpty("WEBPIPE_FILE_SEARCH_PATH", "FILE_SEARCH_PATH")
	}

	setInt64Env(&cfg.CacheMaxAgeSeconds, "WEBPIPE_CACHE_MAX_AGE_SECONDS")
	setInt64Env(&cfg.CacheMaxBytes, "WEBPIPE_CACHE_MAX_BYTES")
	setIntEnv(&cfg.CacheMaxCount, "WEBPIPE_CACHE_MAX_COUNT")

	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = firstNonEmpty("WEBPIPE_LLM_BASE_URL", "LLM_BASE_URL")
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = firstNonEmpty("WEBPIPE_LLM_MODEL", "LLM_MODEL")
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = firstNonEmpty("WEBPIPE_LLM_API_KEY", "LLM_API_KEY")
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("WEBPIPE_ROUTING_CONTEXT"))); v != "" {
		switch RoutingContext(v) {
		case RoutingGlobal, RoutingQueryKey, RoutingBoth:
			cfg.RoutingContext = RoutingContext(v)
		}
	}
	setIntEnv(&cfg.RoutingMaxContexts, "WEBPIPE_ROUTING_MAX_CONTEXTS")

	setBoolEnv(&cfg.AllowUnsafeHeaders, "WEBPIPE_ALLOW_UNSAFE_HEADERS")
	setBoolEnv(&cfg.HonorRobots, "WEBPIPE_HONOR_ROBOTS")
	setBoolEnv(&cfg.NoNetwork, "WEBPIPE_NO_NETWORK")

	setIntEnv(&cfg.MaxResults, "WEBPIPE_MAX_RESULTS")
	setIntEnv(&cfg.MaxURLs, "WEBPIPE_MAX_URLS")
	setInt64Env(&cfg.MaxBytes, "WEBPIPE_MAX_BYTES")
	setIntEnv(&cfg.MaxChars, "WEBPIPE_MAX_CHARS")
	setIntEnv(&cfg.MaxChunkChars, "WEBPIPE_MAX_CHUNK_CHARS")
	setIntEnv(&cfg.TopChunks, "WEBPIPE_TOP_CHUNKS")
	setIntEnv(&cfg.MaxLinks, "WEBPIPE_MAX_LINKS")
	setIntEnv(&cfg.FrontierMax, "WEBPIPE_FRONTIER_MAX")
	setIntEnv(&cfg.AgenticMaxSearchRounds, "WEBPIPE_AGENTIC_MAX_SEARCH_ROUNDS")
	setIntEnv(&cfg.PlannerMaxCalls, "WEBPIPE_PLANNER_MAX_CALLS")
}

func firstNonEmpty(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func setIntEnv(dst *int, envKey string) {
	s := strings.TrimSpace(os.Getenv(envKey))
	if s == "" {
		return
	}
	if n, err := strconv.Atoi(s); err == nil {
		*dst = n
	}
}

func setInt64Env(dst *int64, envKey string) {
	s := strings.TrimSpace(os.Getenv(envKey))
	if s == "" {
		return
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*dst = n
	}
}

func setBoolEnv(dst *bool, envKey string) {
	s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))
	if s == "" {
		return
	}
	switch s {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
