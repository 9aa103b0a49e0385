// Package llm holds the chat clients shared by the vision and reasoning
// providers.
package llm

import (
	"context"
	"regexp"
	"strings"
	"time"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/platform/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn. Images are only sent on user turns.
type Message struct {
	Role    string
	Content string
	Images  []providers.ImageInput
}

// Client performs a single non-streaming chat completion.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Model() string
}

// Options are the sampling parameters shared by all clients.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OptionsFrom maps provider configuration onto client options.
func OptionsFrom(cfg config.ProviderConfig) Options {
	return Options{
		Model:       cfg.ModelName,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think>...</think> reasoning blocks some models emit,
// including an unterminated trailing block.
func StripThink(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
