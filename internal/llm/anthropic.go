package llm

import (
	"context"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic messages endpoint. Unlike OpenAI,
// prompt caching is explicit: the adapter attaches a cache_control marker to
// the last static message so the stable prefix is cached across calls.
type AnthropicProvider struct {
	name    string
	apiKey  string
	baseURL string
	http    *HTTPClient
}

// NewAnthropicProvider builds an adapter for the Anthropic API.
func NewAnthropicProvider(name, apiKey, baseURL string, timeout time.Duration) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    NewHTTPClient(timeout),
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

type anthropicBlock struct {
	Type         string         `json:"type"`
	Text         string         `json:"text"`
	CacheControl map[string]any `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      []anthropicBlock   `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

// Complete performs one messages call. System-role messages go into the
// top-level system field; the last static message carries the cache marker.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	cacheIdx := lastStaticIndex(req.Messages)

	body := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}

	for i, m := range req.Messages {
		block := anthropicBlock{Type: "text", Text: m.Content}
		if i == cacheIdx {
			block.CacheControl = map[string]any{"type": "ephemeral"}
		}
		if m.Role == "system" {
			body.System = append(body.System, block)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicBlock{block},
		})
	}

	var resp anthropicResponse
	err := p.http.DoJSON(ctx, "POST", p.baseURL+"/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, body, &resp)
	if err != nil {
		return CompletionResult{}, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	usage := resp.Usage
	return CompletionResult{
		Text:         text.String(),
		InputTokens:  usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens,
		OutputTokens: usage.OutputTokens,
		CachedTokens: usage.CacheReadInputTokens,
		ModelID:      resp.Model,
	}, nil
}
