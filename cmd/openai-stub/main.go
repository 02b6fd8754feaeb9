// Command openai-stub is a minimal OpenAI-compatible chat completion server
// used in integration tests: it recognizes the two system prompts webpipe
// actually sends (query-planning and evidence synthesis) and returns a
// deterministic, schema-matching response for each, rather than calling a
// real model.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sys := ""
		var user string
		if len(req.Messages) > 0 {
			sys = strings.TrimSpace(req.Messages[0].Content)
		}
		if len(req.Messages) > 1 {
			user = req.Messages[1].Content
		}

		var content string
		switch {
		case strings.Contains(sys, "search query planning assistant"):
			content = planQueries(user)
		case strings.Contains(sys, "careful research assistant"):
			content = synthesizeAnswer(user)
		default:
			http.Error(w, "unexpected system prompt", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})

	log.Printf("openai-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// planQueries answers planner.LLMExpander's strict {"queries": string[]}
// contract with a few deterministic variants of the question.
func planQueries(user string) string {
	question := strings.TrimPrefix(user, "Question: ")
	question = strings.TrimSpace(question)
	queries := []string{
		question + " overview",
		question + " alternatives",
		question + " limitations",
	}
	b, _ := json.Marshal(map[string]any{"queries": queries})
	return string(b)
}

// synthesizeAnswer answers llm.Synthesizer's free-text, cite-by-URL
// contract. It echoes the first cited URL so a caller can assert the
// answer text actually references the evidence it was given.
func synthesizeAnswer(user string) string {
	firstURL := ""
	for _, line := range strings.Split(user, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[1] ") {
			fields := strings.Fields(strings.TrimPrefix(line, "[1] "))
			if len(fields) > 0 {
				firstURL = fields[0]
			}
			break
		}
	}
	if firstURL == "" {
		return "The provided evidence is insufficient to answer the question."
	}
	return "Based on the evidence, here is a grounded answer citing " + firstURL + "."
}
