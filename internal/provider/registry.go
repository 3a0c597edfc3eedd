package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Config describes one configured provider.
type Config struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type"` // openai, anthropic, local, custom, ollama
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"` // default model
}

// Registry manages configured completion providers and resolves
// persona model paths ("providerID/model") to a provider instance.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registered
}

type registered struct {
	config   *Config
	provider CompletionProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*registered)}
}

// Register adds a provider. It fails if the ID is already taken or the
// type is unknown.
func (r *Registry) Register(cfg *Config) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("provider config must have an id")
	}

	var p CompletionProvider
	switch cfg.Type {
	case "openai", "anthropic", "local", "custom":
		// All speak the OpenAI-compatible chat protocol.
		p = NewOpenAIProvider(cfg.Endpoint, cfg.APIKey)
	case "ollama":
		p = NewOllamaProvider(cfg.Endpoint)
	default:
		return fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[cfg.ID]; exists {
		return fmt.Errorf("provider %s already registered", cfg.ID)
	}
	r.providers[cfg.ID] = &registered{config: cfg, provider: p}
	return nil
}

// RegisterProvider adds a pre-built provider implementation under
// cfg.ID, bypassing type-based construction. Used for in-process
// providers and tests.
func (r *Registry) RegisterProvider(cfg *Config, p CompletionProvider) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("provider config must have an id")
	}
	if p == nil {
		return fmt.Errorf("provider implementation must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[cfg.ID]; exists {
		return fmt.Errorf("provider %s already registered", cfg.ID)
	}
	r.providers[cfg.ID] = &registered{config: cfg, provider: p}
	return nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (CompletionProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", id)
	}
	return reg.provider, nil
}

// ForModelPath resolves "providerID/model" to a provider and model
// name. A bare provider ID falls back to that provider's default
// model.
func (r *Registry) ForModelPath(path string) (CompletionProvider, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("model path must not be empty")
	}

	id := path
	model := ""
	if idx := strings.Index(path, "/"); idx >= 0 {
		id, model = path[:idx], path[idx+1:]
	}

	r.mu.RLock()
	reg, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("provider %s not registered", id)
	}
	if model == "" {
		model = reg.config.Model
	}
	if model == "" {
		return nil, "", fmt.Errorf("no model in path %q and provider %s has no default", path, id)
	}
	return reg.provider, model, nil
}

// IDs lists registered provider IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
