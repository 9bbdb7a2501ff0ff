package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/justafolk/xtrc/internal/scorer"
)

// openAICollaborator is a plain net/http JSON client against the OpenAI
// chat completions API. No SDK in the retrieval pack covers OpenAI, so this
// is implemented directly against the documented HTTP contract.
type openAICollaborator struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	callTimeout time.Duration
	threshold   float64
}

func newOpenAICollaborator(cfg Config) *openAICollaborator {
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openAICollaborator{
		httpClient:  &http.Client{Timeout: cfg.CallTimeout + time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.OpenAIAPIKey,
		model:       model,
		callTimeout: cfg.CallTimeout,
		threshold:   cfg.GeminiThreshold,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *openAICollaborator) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if o.apiKey == "" {
		return "", errors.New("no api key configured")
	}
	ctx, cancel := withTimeout(ctx, o.callTimeout)
	defer cancel()

	body, err := json.Marshal(chatCompletionRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: unexpected status %d", resp.StatusCode)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (o *openAICollaborator) Rewrite(ctx context.Context, query string) (string, bool) {
	out, err := o.complete(ctx,
		"Rewrite the user's code-search query to be more specific and literal. Reply with only the rewritten query.",
		query)
	if err != nil || out == "" {
		return "", false
	}
	return out, true
}

func (o *openAICollaborator) Summarize(ctx context.Context, content string) (string, bool) {
	const maxInput = 4000
	if len(content) > maxInput {
		content = content[:maxInput]
	}
	out, err := o.complete(ctx,
		"Summarize this code chunk in one short sentence. No code blocks.",
		content)
	if err != nil || out == "" {
		return "", false
	}
	return strings.ReplaceAll(out, "\n", " "), true
}

func (o *openAICollaborator) RerankAndSelect(ctx context.Context, query string, candidates []scorer.Scored) (Selection, bool) {
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

	out, err := o.complete(ctx,
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
	if parsed.Confidence < o.threshold {
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
