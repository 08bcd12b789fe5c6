// Package llm implements GenerativeProvider: a uniform text-completion
// interface with concrete bindings for a local completion endpoint, a
// chat-style API, a generic HTTP responder, and VertexAI/Gemini via
// google.golang.org/genai (the teacher's own generative binding, split out
// of internal/ai since the spec treats embedding and generation as
// separate components).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// Provider is the polymorphic GenerativeProvider surface: {generate, name}.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// ParseError is raised when a generator's response body doesn't match any
// known response shape (the HTTP status is not checked); the raw body is
// attached for diagnostics.
type ParseError struct {
	RawBody string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm: malformed generator response: %s", e.RawBody)
}

// LocalCompletionProvider targets a llama.cpp-style /completion endpoint.
type LocalCompletionProvider struct {
	url         string
	temperature float64
	http        *http.Client
}

func NewLocalCompletionProvider(url string, temperature float64) *LocalCompletionProvider {
	return &LocalCompletionProvider{url: url, temperature: temperature, http: &http.Client{Timeout: 180 * time.Second}}
}

func (p *LocalCompletionProvider) Name() string { return "local" }

func (p *LocalCompletionProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"prompt":      prompt,
		"n_predict":   maxTokens,
		"temperature": p.temperature,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm local: retryable request failure: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Content == "" {
		return "", &ParseError{RawBody: string(raw)}
	}
	return out.Content, nil
}

// ChatProvider targets an OpenAI-chat-completions-shaped endpoint.
type ChatProvider struct {
	url         string
	model       string
	apiKey      string
	temperature float64
	http        *http.Client
}

func NewChatProvider(url, model, apiKey string, temperature float64) *ChatProvider {
	return &ChatProvider{url: url, model: model, apiKey: apiKey, temperature: temperature, http: &http.Client{Timeout: 180 * time.Second}}
}

func (p *ChatProvider) Name() string { return "chat" }

func (p *ChatProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": p.temperature,
		"max_tokens":  maxTokens,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm chat: retryable request failure: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Choices) == 0 {
		return "", &ParseError{RawBody: string(raw)}
	}
	return out.Choices[0].Message.Content, nil
}

// GenericProvider accepts any of text/content/response/output/generated_text
// in the response body.
type GenericProvider struct {
	url         string
	temperature float64
	http        *http.Client
}

func NewGenericProvider(url string, temperature float64) *GenericProvider {
	return &GenericProvider{url: url, temperature: temperature, http: &http.Client{Timeout: 180 * time.Second}}
}

func (p *GenericProvider) Name() string { return "generic" }

func (p *GenericProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"prompt":      prompt,
		"max_tokens":  maxTokens,
		"temperature": p.temperature,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm generic: retryable request failure: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &ParseError{RawBody: string(raw)}
	}
	for _, key := range []string{"text", "content", "response", "output", "generated_text"} {
		if v, ok := out[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", &ParseError{RawBody: string(raw)}
}

// VertexAIProvider wraps google.golang.org/genai for Gemini-backed generation.
type VertexAIProvider struct {
	client *genai.Client
	model  string
}

func NewVertexAIProvider(ctx context.Context, projectID, location, model string) (*VertexAIProvider, error) {
	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if projectID != "" {
		cc.Project = projectID
	}
	if location != "" {
		cc.Location = location
	}
	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("llm vertexai: client init: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &VertexAIProvider{client: client, model: model}, nil
}

func (p *VertexAIProvider) Name() string { return "vertexai" }

func (p *VertexAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	mt := int32(maxTokens)
	cfg := genai.GenerateContentConfig{MaxOutputTokens: mt}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("llm vertexai: retryable request failure: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &ParseError{RawBody: fmt.Sprintf("%+v", resp)}
	}
	return string(resp.Candidates[0].Content.Parts[0].Text), nil
}

var (
	_ Provider = (*LocalCompletionProvider)(nil)
	_ Provider = (*ChatProvider)(nil)
	_ Provider = (*GenericProvider)(nil)
	_ Provider = (*VertexAIProvider)(nil)
)
