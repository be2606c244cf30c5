package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"metered-messaging/config"
	"metered-messaging/internal/core/ports"
)

// NewReplyGenerator selects the reply generator by configuration.
// Unknown values fall back to the OpenAI-compatible provider.
func NewReplyGenerator(cfg config.LLMConfig) ports.ReplyGenerator {
	client := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Provider == "ollama" {
		return &OllamaReplyGenerator{
			base:        base,
			model:       cfg.Model,
			temperature: cfg.Temperature,
			client:      client,
		}
	}
	return &OpenAIReplyGenerator{
		base:        base,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      client,
	}
}

// buildPrompt frames the user's question with business knowledge. At
// most five context snippets are included.
func buildPrompt(tenantID, query string, docs []string) string {
	if len(docs) > 5 {
		docs = docs[:5]
	}
	context := strings.Join(docs, "\n")
	if context == "" {
		context = "No documents available."
	}
	return fmt.Sprintf(`You are a helpful WhatsApp agent for tenant %s.
User asked: %s

Business knowledge:
%s

Rules:
- If no relevant knowledge, say "I will connect you with the business owner."
- Be concise, friendly, and professional.`, tenantID, query, context)
}

// OpenAIReplyGenerator calls an OpenAI-compatible chat completions API.
type OpenAIReplyGenerator struct {
	base        string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// GenerateReply produces the outbound reply text.
func (g *OpenAIReplyGenerator) GenerateReply(ctx context.Context, tenantID, query string, docs []string) (string, error) {
	body := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a WhatsApp business assistant."},
			{"role": "user", "content": buildPrompt(tenantID, query, docs)},
		},
		"temperature": g.temperature,
		"max_tokens":  g.maxTokens,
	}

	raw, err := postJSON(ctx, g.client, g.base+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + g.apiKey,
		"Content-Type":  "application/json",
	}, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// OllamaReplyGenerator calls a local Ollama chat endpoint.
type OllamaReplyGenerator struct {
	base        string
	model       string
	temperature float64
	client      *http.Client
}

// GenerateReply produces the outbound reply text.
func (g *OllamaReplyGenerator) GenerateReply(ctx context.Context, tenantID, query string, docs []string) (string, error) {
	body := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(tenantID, query, docs)},
		},
		"options": map[string]any{"temperature": g.temperature},
		"stream":  false,
	}

	raw, err := postJSON(ctx, g.client, g.base+"/api/chat", map[string]string{
		"Content-Type": "application/json",
	}, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode ollama reply: %w", err)
	}
	if parsed.Message.Content == "" {
		return "", fmt.Errorf("ollama returned empty reply")
	}
	return strings.TrimSpace(parsed.Message.Content), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
