package imagegen

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pictora/pictora/types"
)

// Registry is a thread-safe dispatcher mapping format tags to provider
// clients and model ids to validated model records. The format set is
// closed: model records naming an unknown format are rejected at
// registration time, never at call time.
type Registry struct {
	clients      map[string]Client
	models       map[string]ModelConfig
	defaultModel string
	mu           sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		models:  make(map[string]ModelConfig),
	}
}

// RegisterClient adds a provider client for its format tag. An existing
// client for the same format is replaced.
func (r *Registry) RegisterClient(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Format()] = c
}

// RegisterModel validates and stores a model record. A malformed record
// returns a CONFIG error and leaves the registry untouched, so one bad
// model never takes down the rest.
func (r *Registry) RegisterModel(id string, cfg ModelConfig) error {
	if err := r.validateModel(id, &cfg); err != nil {
		return err
	}
	cfg.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[id] = cfg
	return nil
}

func (r *Registry) validateModel(id string, cfg *ModelConfig) error {
	if strings.TrimSpace(id) == "" {
		return types.NewConfigError("model id must not be empty")
	}
	if cfg.Format == "" {
		return types.NewConfigError(fmt.Sprintf("model %q has no format tag", id))
	}
	r.mu.RLock()
	_, known := r.clients[cfg.Format]
	r.mu.RUnlock()
	if !known {
		return types.NewConfigError(fmt.Sprintf("model %q uses unknown format %q", id, cfg.Format))
	}
	if cfg.BaseURL == "" {
		return types.NewConfigError(fmt.Sprintf("model %q has no base URL", id))
	}
	// The mengyuai backend cannot process input images, so the record must
	// not advertise img2img support.
	if cfg.Format == "mengyuai" && cfg.SupportImg2Img {
		return types.NewConfigError(fmt.Sprintf("model %q: format mengyuai does not support img2img", id))
	}
	return nil
}

// Resolve returns the client and model record for a model id.
func (r *Registry) Resolve(modelID string) (Client, ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.models[modelID]
	if !ok {
		return nil, ModelConfig{}, types.NewValidationError(fmt.Sprintf("unknown model %q", modelID))
	}
	client, ok := r.clients[cfg.Format]
	if !ok {
		return nil, ModelConfig{}, types.NewConfigError(fmt.Sprintf("no client registered for format %q", cfg.Format))
	}
	return client, cfg, nil
}

// Model returns a model record by id.
func (r *Registry) Model(id string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.models[id]
	return cfg, ok
}

// SetDefault designates a registered model as the default.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return fmt.Errorf("model %q not registered", id)
	}
	r.defaultModel = id
	return nil
}

// Default returns the default model id, empty when unset.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Models returns the sorted ids of all registered models.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Formats returns the sorted format tags with a registered client.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]string, 0, len(r.clients))
	for f := range r.clients {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
