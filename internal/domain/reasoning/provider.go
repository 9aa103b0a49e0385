// Package reasoning answers user questions against the accumulated photo
// descriptions.
package reasoning

import (
	"context"
	"errors"
	"fmt"

	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/domain/llm"
	"glass-server-go/internal/platform/config"
)

const defaultSystemPrompt = "You answer questions about what a camera wearer has seen, using only the provided image descriptions."

type Provider struct {
	name   string
	system string
	client llm.Client
}

func New(name, systemPrompt string, client llm.Client) *Provider {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Provider{name: name, system: systemPrompt, client: client}
}

func (p *Provider) Name() string { return p.name }
func (p *Provider) Close() error { return nil }

// Answer sends the system prompt followed by one user turn holding the
// descriptions and the question.
func (p *Provider) Answer(ctx context.Context, question, contextText string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: p.system},
		{Role: llm.RoleUser, Content: UserPrompt(question, contextText)},
	}
	out, err := p.client.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("reasoning model returned an empty answer")
	}
	return out, nil
}

// UserPrompt renders the user turn. With no context the question is sent
// alone.
func UserPrompt(question, contextText string) string {
	if contextText == "" {
		return question
	}
	return fmt.Sprintf("Image descriptions:%s\n\nQuestion: %s", contextText, question)
}

// Register adds the "openai" and "ollama" reasoning factories.
func Register(reg *providers.Registry) error {
	if err := reg.RegisterReasoning("openai", func(name string, cfg config.ProviderConfig) (providers.ReasoningProvider, error) {
		client, err := llm.NewOpenAIClient(llm.OptionsFrom(cfg))
		if err != nil {
			return nil, err
		}
		return New(name, cfg.Prompt, client), nil
	}); err != nil {
		return err
	}
	return reg.RegisterReasoning("ollama", func(name string, cfg config.ProviderConfig) (providers.ReasoningProvider, error) {
		client, err := llm.NewOllamaClient(llm.OptionsFrom(cfg))
		if err != nil {
			return nil, err
		}
		return New(name, cfg.Prompt, client), nil
	})
}
