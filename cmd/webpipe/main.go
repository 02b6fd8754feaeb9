// Command webpipe is the stdio tool-server entrypoint: it wires every
// collaborator (Router, Fetcher, cache, robots gate, planner, synthesizer)
// from process configuration, registers the tool surface, and serves
// line-delimited JSON {tool, args} requests on stdin, writing one response
// object per line to stdout.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/webpipe/internal/arxiv"
	"github.com/hyperifyio/webpipe/internal/cache"
	"github.com/hyperifyio/webpipe/internal/chunks"
	"github.com/hyperifyio/webpipe/internal/config"
	"github.com/hyperifyio/webpipe/internal/fetch"
	"github.com/hyperifyio/webpipe/internal/llm"
	"github.com/hyperifyio/webpipe/internal/llmtools"
	"github.com/hyperifyio/webpipe/internal/planner"
	"github.com/hyperifyio/webpipe/internal/robots"
	"github.com/hyperifyio/webpipe/internal/router"
	"github.com/hyperifyio/webpipe/internal/search"
	"github.com/hyperifyio/webpipe/internal/stats"
	"github.com/hyperifyio/webpipe/internal/toolserver"
)

// version is overridable at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var verbose bool
	var resetCache bool
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.BoolVar(&resetCache, "reset-cache", false, "wipe the cache directory before starting")
	flag.Parse()
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := config.Load()
	if resetCache {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			log.Fatal().Err(err).Msg("cache reset failed")
		}
	}
	maintainCache(cfg)

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("tool registry init failed")
	}

	if err := serveStdio(context.Background(), reg, os.Stdin, os.Stdout); err != nil && err != io.EOF {
		log.Fatal().Err(err).Msg("stdio loop failed")
	}
}

// newHighThroughputHTTPClient returns an HTTP client on the default
// transport with a 60s overall timeout; no transport tuning is applied, and
// concurrency is bounded only by the Fetcher's own MaxConcurrent gate.
func newHighThroughputHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// maintainCache sweeps the HTTP and LLM cache directories when the operator
// has configured a TTL or size limit, logging what it removes rather than
// failing startup over a maintenance error.
func maintainCache(cfg config.Config) {
	if cfg.CacheMaxAgeSeconds > 0 {
		maxAge := time.Duration(cfg.CacheMaxAgeSeconds) * time.Second
		if n, err := cache.PurgeHTTPCacheByAge(cfg.CacheDir, maxAge); err != nil {
			log.Warn().Err(err).Msg("http cache age sweep failed")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("purged expired http cache entries")
		}
		if n, err := cache.PurgeLLMCacheByAge(cfg.CacheDir, maxAge); err != nil {
			log.Warn().Err(err).Msg("llm cache age sweep failed")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("purged expired llm cache entries")
		}
	}
	if cfg.CacheMaxBytes > 0 || cfg.CacheMaxCount > 0 {
		if n, err := cache.EnforceHTTPCacheLimits(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
			log.Warn().Err(err).Msg("http cache limit enforcement failed")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("evicted http cache entries over limit")
		}
		if n, err := cache.EnforceLLMCacheLimits(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
			log.Warn().Err(err).Msg("llm cache limit enforcement failed")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("evicted llm cache entries over limit")
		}
	}
}

func buildRegistry(cfg config.Config) (*llmtools.Registry, error) {
	var seedList config.SeedList
	if p := config.SeedListPath(); p != "" {
		sl, err := config.LoadSeedList(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("seed list load failed; continuing without it")
		} else {
			seedList = sl
		}
	}

	httpClient := newHighThroughputHTTPClient()
	httpCache := &cache.HTTPCache{Dir: cfg.CacheDir}

	var robotsChecker fetch.RobotsChecker
	if cfg.HonorRobots {
		robotsChecker = &robots.Manager{HTTPClient: httpClient, Cache: httpCache, UserAgent: "webpipe/1.0"}
	}

	fetcher := &fetch.Client{
		HTTPClient:      httpClient,
		UserAgent:       "webpipe/1.0",
		RedirectMaxHops: 10,
		MaxConcurrent:   8,
		Cache:           httpCache,
		Robots:          robotsChecker,
	}

	statsReg := stats.NewRegistry(512, stats.ParseRoutingContext(string(cfg.RoutingContext)), cfg.RoutingMaxContexts)

	rt := &router.Router{
		Arms:     buildArms(cfg, httpClient),
		Registry: statsReg,
		Weights:  router.DefaultWeights(),
	}

	// chatProvider wraps the raw openai.Client so every caller (the planner's
	// query expander, the synthesizer) depends on the same adapter and can be
	// probed for the optional ModelLister capability, instead of each holding
	// its own *openai.Client.
	var chatProvider *llm.OpenAIProvider
	if cfg.LLMBaseURL != "" && cfg.LLMModel != "" {
		transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
		transportCfg.BaseURL = cfg.LLMBaseURL
		transportCfg.HTTPClient = httpClient
		chatProvider = &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(transportCfg)}
	}

	llmCache := &cache.LLMCache{Dir: cfg.CacheDir}

	var planExpander planner.Expander
	if chatProvider != nil {
		planExpander = &planner.LLMExpander{Client: chatProvider, Model: cfg.LLMModel, Cache: llmCache}
	} else {
		planExpander = planner.FallbackExpander{}
	}

	var synthesizer *llm.Synthesizer
	if chatProvider != nil {
		synthesizer = &llm.Synthesizer{Client: chatProvider, Cache: llmCache}
	}

	arxivClient := &arxiv.Client{Fetcher: fetcher}

	reg, err := toolserver.Build(toolserver.Deps{
		Version:   version,
		Config:    cfg,
		SeedList:  seedList,
		Router:    rt,
		Fetcher:   fetcher,
		Cache:     httpCache,
		Stats:     statsReg,
		Planner:   planExpander,
		LLM:       synthesizer,
		Arxiv:     arxivClient,
		ChunkMode: chunks.ModeScore,
	})
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	return reg, nil
}

// buildArms assembles the Router's provider arms. SearxNG and the local file
// arm are the only providers with a real wire implementation; Brave/Tavily/
// Firecrawl are included whenever an API key is configured so the Router and
// its budget/constraint filters have real named arms to select over, even
// though their Search calls currently return not_supported once configured
// (see DESIGN.md). cfg.SearxURL may name several comma-separated endpoints,
// which router.BuildSearxNGArms fans out into distinct "searxng#N" arms so
// the bandit can learn per-endpoint reliability instead of averaging across
// them. cfg.FileSearchPath, when set, adds a zero-cost "file" arm reading a
// local JSON fixture, giving the Router a fully offline provider for a
// curated corpus or a recorded test fixture.
func buildArms(cfg config.Config, httpClient *http.Client) []router.Arm {
	var arms []router.Arm
	for _, arm := range router.BuildSearxNGArms(splitNonEmpty(cfg.SearxURL), cfg.SearxKey, httpClient) {
		arm.CostUnits = 1
		arms = append(arms, arm)
	}
	if cfg.BraveKey != "" {
		arms = append(arms, router.Arm{Name: "brave", Provider: &search.Brave{APIKey: cfg.BraveKey, HTTPClient: httpClient}, CostUnits: 1})
	}
	if cfg.TavilyKey != "" {
		arms = append(arms, router.Arm{Name: "tavily", Provider: &search.Tavily{APIKey: cfg.TavilyKey, HTTPClient: httpClient}, CostUnits: 1})
	}
	if cfg.FirecrawlKey != "" {
		arms = append(arms, router.Arm{Name: "firecrawl", Provider: &search.Firecrawl{APIKey: cfg.FirecrawlKey, HTTPClient: httpClient}, CostUnits: 2})
	}
	if cfg.FileSearchPath != "" {
		arms = append(arms, router.Arm{Name: "file", Provider: &search.FileProvider{Path: cfg.FileSearchPath}, CostUnits: 0})
	}
	return arms
}

// splitNonEmpty splits a comma-separated list of endpoints, trimming
// whitespace and dropping empty entries.
func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// rpcRequest is one line of stdin: {"tool": "...", "args": {...}}. An empty
// or missing args is treated as an empty JSON object, since every Handler
// expects to unmarshal a (possibly empty) object.
type rpcRequest struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// serveStdio reads newline-delimited rpcRequests from r and writes one JSON
// response object per line to w, until r is exhausted. An unknown tool name
// or malformed request line produces an error envelope rather than aborting
// the loop, so one bad line cannot take down a long-running session.
func serveStdio(ctx context.Context, reg *llmtools.Registry, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := writeLine(w, map[string]any{"schema_version": 1, "ok": false, "error": map[string]string{"code": "invalid_params", "message": err.Error()}}); werr != nil {
				return werr
			}
			continue
		}
		def, ok := reg.Get(req.Tool)
		if !ok {
			if werr := writeLine(w, map[string]any{"schema_version": 1, "kind": req.Tool, "ok": false, "error": map[string]string{"code": "not_supported", "message": fmt.Sprintf("unknown tool %q", req.Tool)}}); werr != nil {
				return werr
			}
			continue
		}
		args := req.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		result, err := def.Handler(ctx, args)
		if err != nil {
			// Handlers are contractually expected to never return a bare
			// error (see toolserver.errorResult), but one last envelope
			// here keeps a defensive bug from crashing the whole session.
			if werr := writeLine(w, map[string]any{"schema_version": 1, "kind": req.Tool, "ok": false, "error": map[string]string{"code": "unexpected_error", "message": err.Error()}}); werr != nil {
				return werr
			}
			continue
		}
		if err := writeRaw(w, result); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// writeLine marshals v and writes it as one newline-terminated line.
func writeLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(w, b)
}

// writeRaw writes already-marshaled JSON as one newline-terminated line.
func writeRaw(w io.Writer, raw json.RawMessage) error {
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}
