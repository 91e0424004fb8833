package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// Provider error payloads are small; anything past this is noise.
	maxErrorBody = 4 << 10
)

// AnthropicOpts configures the Messages API client.
type AnthropicOpts struct {
	BaseURL   string // defaults to the public endpoint
	APIKey    string
	MaxTokens int           // fallback when Request.MaxTokens is zero
	Timeout   time.Duration // per-call HTTP timeout
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	baseURL   string
	apiKey    string
	maxTokens int
	http      *http.Client
}

// NewAnthropic builds a client. The zero Opts value yields a client against
// the public endpoint with library defaults.
func NewAnthropic(opts AnthropicOpts) *AnthropicClient {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnthropicClient{
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		maxTokens: maxTokens,
		http:      &http.Client{Timeout: timeout},
	}
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends one completion request and returns the text reply. Failures
// carry the transient/permanent classification callers retry on.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		return nil, &PermanentError{Err: errors.New("reasoning: model required")}
	}
	if c.apiKey == "" {
		return nil, &PermanentError{Err: errors.New("reasoning: api key not configured")}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	payload := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicBlock{{Type: "text", Text: req.Prompt}},
		}},
		System:      req.System,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Shutdown is not a provider failure; let the caller see the
		// context error directly.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: fmt.Errorf("reasoning request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if apiResp.Error != nil {
		return nil, &PermanentError{Err: fmt.Errorf("reasoning api: %s: %s", apiResp.Error.Type, apiResp.Error.Message)}
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Result{
		Text:       text.String(),
		StopReason: apiResp.StopReason,
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}
