package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatConfig holds parameters for an OpenAI-compatible chat endpoint.
// Azure and Ollama deployments speak the same wire format; Azure swaps
// bearer auth for an api-key header and a deployment-scoped URL.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	AzureAPIVer string
	Timeout     time.Duration
}

// ChatOracle is the HTTP chat-completions provider.
type ChatOracle struct {
	cfg    ChatConfig
	client *http.Client
}

// NewChatOracle validates the config and returns the provider.
func NewChatOracle(cfg ChatConfig) (*ChatOracle, error) {
	if cfg.BaseURL == "" {
		return nil, &FatalError{Err: fmt.Errorf("base URL is required")}
	}
	if cfg.Model == "" {
		return nil, &FatalError{Err: fmt.Errorf("model is required")}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ChatOracle{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (o *ChatOracle) endpoint() string {
	base := strings.TrimRight(o.cfg.BaseURL, "/")
	if o.cfg.AzureAPIVer != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, o.cfg.Model, o.cfg.AzureAPIVer)
	}
	return base + "/chat/completions"
}

// Complete sends the messages and returns the first choice's content.
func (o *ChatOracle) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	body, _ := json.Marshal(map[string]any{
		"model":       o.cfg.Model,
		"messages":    messages,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		if o.cfg.AzureAPIVer != "" {
			req.Header.Set("api-key", o.cfg.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
		}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	default:
		return "", &FatalError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", &TransientError{Err: fmt.Errorf("empty completion response")}
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
