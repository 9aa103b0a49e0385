package providers

import (
	"errors"
	"sort"
	"sync"

	"glass-server-go/internal/platform/config"
)

type (
	VisionFactory    func(name string, cfg config.ProviderConfig) (VisionProvider, error)
	ReasoningFactory func(name string, cfg config.ProviderConfig) (ReasoningProvider, error)
	SpeechFactory    func(name string, cfg config.SpeechConfig) (SpeechProvider, error)
)

// Registry maps provider types ("openai", "ollama", "edge") to factories.
type Registry struct {
	mu        sync.RWMutex
	vision    map[string]VisionFactory
	reasoning map[string]ReasoningFactory
	speech    map[string]SpeechFactory
}

func NewRegistry() *Registry {
	return &Registry{
		vision:    make(map[string]VisionFactory),
		reasoning: make(map[string]ReasoningFactory),
		speech:    make(map[string]SpeechFactory),
	}
}

func (r *Registry) RegisterVision(typ string, f VisionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == nil {
		return errors.New("vision provider factory cannot be nil")
	}
	if _, exists := r.vision[typ]; exists {
		return errors.New("vision provider already registered: " + typ)
	}
	r.vision[typ] = f
	return nil
}

func (r *Registry) RegisterReasoning(typ string, f ReasoningFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == nil {
		return errors.New("reasoning provider factory cannot be nil")
	}
	if _, exists := r.reasoning[typ]; exists {
		return errors.New("reasoning provider already registered: " + typ)
	}
	r.reasoning[typ] = f
	return nil
}

func (r *Registry) RegisterSpeech(typ string, f SpeechFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f == nil {
		return errors.New("speech provider factory cannot be nil")
	}
	if _, exists := r.speech[typ]; exists {
		return errors.New("speech provider already registered: " + typ)
	}
	r.speech[typ] = f
	return nil
}

// NewVision creates the vision provider configured under name.
func (r *Registry) NewVision(name string, cfg config.ProviderConfig) (VisionProvider, error) {
	r.mu.RLock()
	f, ok := r.vision[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("vision provider type not found: " + cfg.Type)
	}
	return f(name, cfg)
}

// NewReasoning creates the reasoning provider configured under name.
func (r *Registry) NewReasoning(name string, cfg config.ProviderConfig) (ReasoningProvider, error) {
	r.mu.RLock()
	f, ok := r.reasoning[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("reasoning provider type not found: " + cfg.Type)
	}
	return f(name, cfg)
}

// NewSpeech creates the speech provider configured under name.
func (r *Registry) NewSpeech(name string, cfg config.SpeechConfig) (SpeechProvider, error) {
	r.mu.RLock()
	f, ok := r.speech[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New("speech provider type not found: " + cfg.Type)
	}
	return f(name, cfg)
}

// List returns the registered types per category.
func (r *Registry) List() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := map[string][]string{
		"vision":    keys(r.vision),
		"reasoning": keys(r.reasoning),
		"speech":    keys(r.speech),
	}
	return result
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
