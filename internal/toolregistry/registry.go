// Package toolregistry manages the YAML-based registry of AI tools.
package toolregistry

import (
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tool describes a registered AI tool and who may use it.
type Tool struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	// Roles and Disciplines restrict who may invoke the tool.
	// An empty list means no restriction on that axis.
	Roles       []string `yaml:"roles"`
	Disciplines []string `yaml:"disciplines"`
}

// Config is the top-level YAML structure.
type Config struct {
	Tools []Tool `yaml:"tools"`
}

// Principal identifies the requesting user for permission checks.
type Principal struct {
	UserID     string
	Role       string
	Discipline string
}

// Registry holds registered tools, keyed by ID. Safe for concurrent use;
// Reload swaps the contents atomically under the lock.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Tool
	order []string // preserves definition order
}

// New creates a Registry from the given tools. Used by tests and by
// callers that embed a default tool set instead of loading YAML.
func New(tools ...Tool) *Registry {
	r := &Registry{byID: make(map[string]*Tool, len(tools))}
	r.replace(tools)
	return r
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	r := New()
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the YAML file at path and replaces the registry contents.
// A missing file empties the registry.
func (r *Registry) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.replace(nil)
			return nil
		}
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	r.replace(cfg.Tools)
	return nil
}

func (r *Registry) replace(tools []Tool) {
	byID := make(map[string]*Tool, len(tools))
	order := make([]string, 0, len(tools))
	for i := range tools {
		t := tools[i]
		if _, dup := byID[t.ID]; dup {
			continue // first definition wins
		}
		byID[t.ID] = &t
		order = append(order, t.ID)
	}

	r.mu.Lock()
	r.byID = byID
	r.order = order
	r.mu.Unlock()
}

// Lookup returns a tool by ID. Returns (nil, false) if not registered.
func (r *Registry) Lookup(id string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// Has reports whether the tool ID is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// All returns all tools in definition order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Tool, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

// Names returns a sorted list of registered tool IDs.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Allowed reports whether the principal may use the named tool.
// Unregistered tools are never allowed. A tool with no role and no
// discipline restrictions is allowed for everyone.
func (r *Registry) Allowed(toolID string, p Principal) bool {
	t, ok := r.Lookup(toolID)
	if !ok {
		return false
	}
	if len(t.Roles) > 0 && !contains(t.Roles, p.Role) {
		return false
	}
	if len(t.Disciplines) > 0 && !contains(t.Disciplines, p.Discipline) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
