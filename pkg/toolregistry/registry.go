// Package toolregistry implements the Tool Registry (C3): named
// side-channel handlers invoked synchronously by the Scripted Scene
// Machine when a player command matches a registered tool name.
package toolregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"orchestrator/pkg/storytypes"
)

// ToolResult is what a Tool returns: narration to show the player plus
// metadata and a success flag. A tool never mutates WorldState; it fails
// cleanly by returning Ok=false, which the engine turns into narration
// without touching state.
type ToolResult struct {
	Narration string
	Metadata  map[string]any
	Ok        bool
}

// Tool is a named, synchronously invoked side-channel handler. Run receives
// the remainder of the player's input as argument and a read-only view of
// WorldState; attempting to mutate the view is a programming error, not a
// runtime condition the registry guards against.
type Tool struct {
	Name        string
	Description string
	Run         func(argument string, world storytypes.WorldStateView) (ToolResult, error)
}

// Registry holds the tools known to a session, keyed by lowercased name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("toolregistry: tool name must be non-empty")
	}
	if t.Run == nil {
		return fmt.Errorf("toolregistry: tool %q has no Run function", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name)] = t
	return nil
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a command matches a registered tool name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the named tool with argument against a read-only
// snapshot of world, converting any returned error into a failed
// ToolResult rather than propagating it: tool failure is local and never
// surfaces as a session-level error.
func (r *Registry) Dispatch(name, argument string, world storytypes.WorldStateView) ToolResult {
	t, ok := r.Lookup(name)
	if !ok {
		return ToolResult{Ok: false, Narration: fmt.Sprintf("no such tool: %s", name)}
	}
	result, err := t.Run(argument, world)
	if err != nil {
		return ToolResult{Ok: false, Narration: err.Error()}
	}
	return result
}
