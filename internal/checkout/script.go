package checkout

import (
	"context"
	"strings"
	"sync"
)

// ScriptLoader makes an external script available before a gateway session opens.
// Loading the same source twice must be a no-op.
type ScriptLoader interface {
	Load(ctx context.Context, src string) error
}

// ScriptRegistry records script sources once each, in first-load order. Pages
// render one tag per registered source.
type ScriptRegistry struct {
	mu      sync.Mutex
	loaded  map[string]struct{}
	sources []string
}

// NewScriptRegistry returns an empty registry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{loaded: make(map[string]struct{})}
}

// Load registers src unless it is already present.
func (r *ScriptRegistry) Load(_ context.Context, src string) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[src]; ok {
		return nil
	}
	r.loaded[src] = struct{}{}
	r.sources = append(r.sources, src)
	return nil
}

// Loaded reports whether src has been registered.
func (r *ScriptRegistry) Loaded(src string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[strings.TrimSpace(src)]
	return ok
}

// Sources returns the registered sources.
func (r *ScriptRegistry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}
