// Package vision turns photos into text descriptions with a multimodal chat
// model.
package vision

import (
	"context"
	"errors"
	"strings"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/llm"
	"glass-server-go/internal/platform/config"
)

const defaultPrompt = "Describe this photo in detail."

// Provider implements providers.VisionProvider on top of an llm.Client.
type Provider struct {
	name   string
	prompt string
	client llm.Client
}

func New(name, prompt string, client llm.Client) *Provider {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultPrompt
	}
	return &Provider{name: name, prompt: prompt, client: client}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.client.Model() }
func (p *Provider) Close() error  { return nil }

func (p *Provider) Describe(ctx context.Context, img providers.ImageInput) (string, error) {
	if img.Base64 == "" {
		return "", errors.New("image has no encoded data")
	}
	out, err := p.client.Chat(ctx, []llm.Message{{
		Role:    llm.RoleUser,
		Content: p.prompt,
		Images:  []providers.ImageInput{img},
	}})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("vision model returned an empty description")
	}
	return out, nil
}

// Register adds the "openai" and "ollama" vision factories.
func Register(reg *providers.Registry) error {
	if err := reg.RegisterVision("openai", func(name string, cfg config.ProviderConfig) (providers.VisionProvider, error) {
		client, err := llm.NewOpenAIClient(llm.OptionsFrom(cfg))
		if err != nil {
			return nil, err
		}
		return New(name, cfg.Prompt, client), nil
	}); err != nil {
		return err
	}
	return reg.RegisterVision("ollama", func(name string, cfg config.ProviderConfig) (providers.VisionProvider, error) {
		client, err := llm.NewOllamaClient(llm.OptionsFrom(cfg))
		if err != nil {
			return nil, err
		}
		return New(name, cfg.Prompt, client), nil
	})
}
