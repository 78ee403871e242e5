package llm

import (
	"fmt"
	"maps"

	"go.uber.org/zap"
)

// ModelSpec describes what a model can do.
type ModelSpec struct {
	Name             string `json:"name"`
	MaxTokens        int    `json:"max_tokens"`
	SupportsThinking bool   `json:"supports_thinking"`
	ContextWindow    int    `json:"context_window"`
	Description      string `json:"description"`
}

const (
	ModelClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelClaudeOpus4   = "claude-opus-4-20250514"
)

// BuiltinModels returns the models served out of the box.
func BuiltinModels() map[string]ModelSpec {
	return map[string]ModelSpec{
		ModelClaudeSonnet4: {
			Name:             "Claude 4 Sonnet",
			MaxTokens:        64000,
			SupportsThinking: true,
			ContextWindow:    200000,
			Description:      "High-performance model with exceptional reasoning capabilities",
		},
		ModelClaudeOpus4: {
			Name:             "Claude 4 Opus",
			MaxTokens:        32000,
			SupportsThinking: true,
			ContextWindow:    200000,
			Description:      "Our most capable and intelligent model yet",
		},
	}
}

// Registry maps model ids to their specs. Entries are registered at startup;
// after the registry is handed to services it is only read.
type Registry struct {
	models    map[string]ModelSpec
	defaultID string
	logger    *zap.Logger
}

// NewRegistry builds a registry from specs. defaultID must be one of them.
func NewRegistry(defaultID string, specs map[string]ModelSpec, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		models:    make(map[string]ModelSpec, len(specs)),
		defaultID: defaultID,
		logger:    logger.Named("models"),
	}
	for id, spec := range specs {
		r.Register(id, spec)
	}
	if _, ok := r.models[defaultID]; !ok {
		return nil, fmt.Errorf("default model %q is not registered", defaultID)
	}
	return r, nil
}

// Register adds a model. It must not be called once the registry is shared.
func (r *Registry) Register(id string, spec ModelSpec) {
	if _, exists := r.models[id]; exists {
		r.logger.Warn("model already registered, overwriting", zap.String("model", id))
	}
	r.models[id] = spec
	r.logger.Debug("registered model", zap.String("model", id), zap.String("name", spec.Name))
}

// Get reports the spec for id and whether it is registered.
func (r *Registry) Get(id string) (ModelSpec, bool) {
	spec, ok := r.models[id]
	return spec, ok
}

// Lookup never fails: unknown ids resolve to the default model's spec.
func (r *Registry) Lookup(id string) ModelSpec {
	if spec, ok := r.models[id]; ok {
		return spec
	}
	return r.models[r.defaultID]
}

// DefaultModel is the id used when a request names none.
func (r *Registry) DefaultModel() string {
	return r.defaultID
}

// All returns a copy of the registered models.
func (r *Registry) All() map[string]ModelSpec {
	return maps.Clone(r.models)
}
