package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/justafolk/xtrc/internal/scorer"
)

// geminiCollaborator is the Gemini-backed Collaborator, grounded on
// google.golang.org/genai's Vertex AI / Gemini API client.
type geminiCollaborator struct {
	client      *genai.Client
	model       string
	callTimeout time.Duration
	threshold   float64
}

func newGeminiCollaborator(cfg Config) (*geminiCollaborator, error) {
	ctx := context.Background()
	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		cc.APIKey = cfg.GeminiAPIKey
	}
	if strings.TrimSpace(cfg.GeminiProjectID) != "" {
		cc.Project = cfg.GeminiProjectID
	}
	if strings.TrimSpace(cfg.GeminiLocation) != "" {
		cc.Location = cfg.GeminiLocation
	} else if cc.APIKey == "" {
		cc.Location = "us-central1"
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &geminiCollaborator{
		client:      client,
		model:       model,
		callTimeout: cfg.CallTimeout,
		threshold:   cfg.GeminiThreshold,
	}, nil
}

func (g *geminiCollaborator) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.callTimeout)
	defer cancel()

	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: genai.Text(systemPrompt)[0],
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt), &cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content returned")
	}
	return strings.TrimSpace(string(resp.Candidates[0].Content.Parts[0].Text)), nil
}

func (g *geminiCollaborator) Rewrite(ctx context.Context, query string) (string, bool) {
	out, err := g.generate(ctx,
		"Rewrite the user's code-search query to be more specific and literal. Reply with only the rewritten query, no punctuation around it.",
		query)
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

func (g *geminiCollaborator) Summarize(ctx context.Context, content string) (string, bool) {
	const maxInput = 4000
	if len(content) > maxInput {
		content = content[:maxInput]
	}
	out, err := g.generate(ctx,
		"Summarize this code chunk in one short sentence, stating what it does. No code blocks, no backticks.",
		content)
	if err != nil || out == "" {
		return "", false
	}
	return strings.ReplaceAll(out, "\n", " "), true
}

func (g *geminiCollaborator) RerankAndSelect(ctx context.Context, query string, candidates []scorer.Scored) (Selection, bool) {
	if len(candidates) == 0 {
		return Selection{Results: candidates, SelectionSource: "scorer"}, false
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s:%d (%s)\n", i, c.Chunk.FilePath, c.Chunk.StartLine, strings.ReplaceAll(c.Chunk.Description, "\n", " "))
	}
	prompt := fmt.Sprintf(
		"Query: %s\nCandidates:\n%s\nReturn a JSON object {\"order\":[indices in best-first order],\"confidence\":0-1}. Only JSON, no prose.",
		query, sb.String())

	out, err := g.generate(ctx,
		"You rank code search candidates by relevance to the query. Reply with strict JSON only.",
		prompt)
	if err != nil || out == "" {
		return Selection{Results: candidates, SelectionSource: "scorer"}, false
	}

	var parsed struct {
		Order      []int   `json:"order"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		return Selection{Results: candidates, SelectionSource: "scorer"}, false
	}
	if parsed.Confidence < g.threshold {
		return Selection{Results: candidates, Confidence: parsed.Confidence, SelectionSource: "scorer"}, false
	}

	reordered := make([]scorer.Scored, 0, len(candidates))
	used := make(map[int]bool)
	for _, idx := range parsed.Order {
		if idx < 0 || idx >= len(candidates) || used[idx] {
			continue
		}
		used[idx] = true
		reordered = append(reordered, candidates[idx])
	}
	for i, c := range candidates {
		if !used[i] {
			reordered = append(reordered, c)
		}
	}

	return Selection{
		Results:         reordered,
		Confidence:      parsed.Confidence,
		SelectionSource: "llm",
		UsedLLM:         true,
	}, true
}

// extractJSON trims any leading/trailing markdown code fences the model
// might wrap its JSON reply in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndexByte(s, '}'); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	return strings.TrimSpace(s)
}
