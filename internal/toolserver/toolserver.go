// Package toolserver adapts the teacher's generic llmtools.Registry into the
// thirteen stdio tools webpipe exposes: each Handler takes raw JSON args and
// returns a {schema_version, kind, ok, ...} envelope, never a bare Go error,
// per the propagation policy in spec.md §7.
package toolserver

import (
	"encoding/json"
	"fmt"

	"github.com/hyperifyio/webpipe/internal/apperr"
	"github.com/hyperifyio/webpipe/internal/arxiv"
	"github.com/hyperifyio/webpipe/internal/cache"
	"github.com/hyperifyio/webpipe/internal/chunks"
	"github.com/hyperifyio/webpipe/internal/config"
	"github.com/hyperifyio/webpipe/internal/evidence"
	"github.com/hyperifyio/webpipe/internal/fetch"
	"github.com/hyperifyio/webpipe/internal/llm"
	"github.com/hyperifyio/webpipe/internal/llmtools"
	"github.com/hyperifyio/webpipe/internal/planner"
	"github.com/hyperifyio/webpipe/internal/router"
	"github.com/hyperifyio/webpipe/internal/stats"
)

// Deps wires every collaborator a tool handler may need. Fields left nil
// degrade their tool to a not_configured error rather than panicking.
type Deps struct {
	Version  string
	Config   config.Config
	SeedList config.SeedList

	Router   *router.Router
	Fetcher  *fetch.Client
	Cache    *cache.HTTPCache
	Stats    *stats.Registry
	Planner  planner.Expander
	LLM      *llm.Synthesizer
	Arxiv    *arxiv.Client
	ChunkMode chunks.Mode
}

type server struct {
	deps Deps
}

// Build registers all thirteen tools and returns the populated registry.
func Build(deps Deps) (*llmtools.Registry, error) {
	if deps.Planner == nil {
		deps.Planner = planner.FallbackExpander{}
	}
	if deps.ChunkMode == "" {
		deps.ChunkMode = chunks.ModeScore
	}
	s := &server{deps: deps}
	reg := llmtools.NewRegistry()

	defs := []llmtools.ToolDefinition{
		s.metaTool(),
		s.usageTool(),
		s.usageResetTool(),
		s.seedURLsTool(),
		s.seedSearchExtractTool(),
		s.fetchTool(),
		s.extractTool(),
		s.searchTool(),
		s.searchExtractTool(),
		s.cacheSearchExtractTool(),
		s.deepResearchTool(),
		s.arxivSearchTool(),
		s.arxivEnrichTool(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// envelope is the common {schema_version, kind, ok, error?} shape every tool
// response embeds.
type envelope struct {
	SchemaVersion int           `json:"schema_version"`
	Kind          string        `json:"kind"`
	OK            bool          `json:"ok"`
	Error         *apperr.Error `json:"error,omitempty"`
}

func okEnvelope(kind string) envelope {
	return envelope{SchemaVersion: 1, Kind: kind, OK: true}
}

// errorResult marshals an error envelope for kind from err, classifying it
// through apperr.FromError, keeping the "errors are values, not exceptions"
// contract at every tool boundary. It returns a Go error only if the
// envelope itself cannot be marshalled.
func errorResult(kind string, err error, hint string) (json.RawMessage, error) {
	env := envelope{SchemaVersion: 1, Kind: kind, OK: false, Error: apperr.FromError(err, hint)}
	b, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return nil, marshalErr
	}
	return b, nil
}

// objectSchema is a minimal permissive JSON Schema object; tool-specific
// argument validation happens in each handler rather than at the schema
// layer, matching the teacher's Registry which only requires a JSON object.
func objectSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(b)
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func arrayOfStrings(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

// The following helpers build plain Go errors whose message carries the
// conventional stable-code prefix apperr.FromError classifies at the tool
// boundary; handlers stay readable without importing apperr.Code directly.
func invalidParams(format string, a ...any) error {
	return fmt.Errorf("invalid_params: "+format, a...)
}

func invalidURL(format string, a ...any) error {
	return fmt.Errorf("invalid_url: "+format, a...)
}

func notConfigured(format string, a ...any) error {
	return fmt.Errorf("not_configured: "+format, a...)
}

func providerUnavailable(format string, a ...any) error {
	return fmt.Errorf("provider_unavailable: "+format, a...)
}

// evidenceAssembler builds the Assembler every pipeline-shaped tool shares.
func (s *server) evidenceAssembler(topChunks int) evidence.Assembler {
	if topChunks <= 0 {
		topChunks = s.deps.Config.TopChunks
	}
	return evidence.Assembler{TopChunksCap: topChunks, Mode: s.deps.ChunkMode}
}
