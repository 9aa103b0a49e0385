package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// OllamaClient calls the Ollama /api/chat endpoint.
type OllamaClient struct {
	httpClient *http.Client
	opts       Options
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func NewOllamaClient(opts Options) (*OllamaClient, error) {
	if opts.Model == "" {
		return nil, errors.New("model name is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		opts:       opts,
	}, nil
}

func (c *OllamaClient) Model() string {
	return c.opts.Model
}

func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	req := ollamaRequest{
		Model:    c.opts.Model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			// Ollama takes bare base64, no data URL prefix.
			om.Images = append(om.Images, img.Base64)
		}
		req.Messages = append(req.Messages, om)
	}
	if c.opts.Temperature > 0 || c.opts.MaxTokens > 0 {
		req.Options = map[string]any{}
		if c.opts.Temperature > 0 {
			req.Options["temperature"] = c.opts.Temperature
		}
		if c.opts.MaxTokens > 0 {
			req.Options["num_predict"] = c.opts.MaxTokens
		}
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	url := strings.TrimSuffix(c.opts.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	var out ollamaResponse
	if err := sonic.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("ollama returned %d", resp.StatusCode)
	}
	if out.Error != "" {
		return "", errors.New("ollama: " + out.Error)
	}
	return StripThink(out.Message.Content), nil
}
