package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/chat"
)

var _ adapter.ChatAdapter = (*Router)(nil)

// Router routes requests to the appropriate adapter based on model name.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.ChatAdapter
	routes   map[string]string // model pattern -> adapter name
	fallback string
}

// New creates a new Router instance.
func New() *Router {
	return &Router{
		adapters: make(map[string]adapter.ChatAdapter),
		routes:   make(map[string]string),
	}
}

// RegisterAdapter registers an adapter with a name.
func (r *Router) RegisterAdapter(name string, a adapter.ChatAdapter) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if a == nil {
		return errors.New("router: adapter cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
	return nil
}

// RegisterRoute registers a model pattern to adapter mapping.
// Patterns are exact ("llama-3.1-8b-instant"), prefix ("llama-*"),
// suffix ("*-instant") or contains ("*70b*").
func (r *Router) RegisterRoute(modelPattern, adapterName string) error {
	modelPattern = strings.ToLower(strings.TrimSpace(modelPattern))
	adapterName = strings.ToLower(strings.TrimSpace(adapterName))
	if modelPattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	if adapterName == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.routes[modelPattern] = adapterName
	return nil
}

// SetFallback names the adapter used for unmatched models.
func (r *Router) SetFallback(adapterName string) error {
	adapterName = strings.ToLower(strings.TrimSpace(adapterName))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.fallback = adapterName
	return nil
}

// CreateCompletion routes the request to the appropriate adapter.
func (r *Router) CreateCompletion(ctx context.Context, params chat.Params) (adapter.Completion, error) {
	a, err := r.resolve(params.Model)
	if err != nil {
		return adapter.Completion{}, err
	}
	return a.CreateCompletion(ctx, params)
}

// CreateCompletionStream routes the stream to the appropriate adapter.
func (r *Router) CreateCompletionStream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error) {
	a, err := r.resolve(params.Model)
	if err != nil {
		return nil, err
	}
	return a.CreateCompletionStream(ctx, params)
}

func (r *Router) resolve(model string) (adapter.ChatAdapter, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("router: model name required")
	}
	name, err := r.findAdapter(model)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	a, exists := r.adapters[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("router: adapter %q not found", name)
	}
	return a, nil
}

// findAdapter finds the adapter name for a model. Exact routes win, then the longest
// matching pattern, then the fallback.
func (r *Router) findAdapter(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))
	if name, exists := r.routes[model]; exists {
		return name, nil
	}

	patterns := make([]string, 0, len(r.routes))
	for pattern := range r.routes {
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})
	for _, pattern := range patterns {
		if matchPattern(model, pattern) {
			return r.routes[pattern], nil
		}
	}

	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", fmt.Errorf("router: no adapter found for model %q", model)
}

func matchPattern(model, pattern string) bool {
	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	prefix := strings.HasSuffix(pattern, "*")
	suffix := strings.HasPrefix(pattern, "*")
	core := strings.Trim(pattern, "*")
	switch {
	case prefix && suffix:
		return strings.Contains(model, core)
	case prefix:
		return strings.HasPrefix(model, core)
	case suffix:
		return strings.HasSuffix(model, core)
	}
	return false
}

// GetAdapterForModel returns the adapter name for a given model.
func (r *Router) GetAdapterForModel(model string) (string, error) {
	return r.findAdapter(model)
}

// ListAdapters returns all registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
