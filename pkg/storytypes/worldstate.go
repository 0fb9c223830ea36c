// Package storytypes defines the shared data model threaded through every
// turn of the narrative runtime: world state, memory, scenes, transitions,
// story events and agent triggers.
package storytypes

import (
	"fmt"
	"sync"
)

// WorldState is the authoritative per-session context. It is owned
// exclusively by one session and mutated only through its own operations.
//
//nolint:govet // logical field grouping preferred over memory layout here
type WorldState struct {
	mu        sync.RWMutex
	Location  string
	Inventory map[string]struct{}
	History   []string
	Memory    *MemoryLog
	Actor     string
}

// NewWorldState creates a world state at the given starting location for the
// given actor (player identifier), with a memory log bounded to capacity.
func NewWorldState(actor, startLocation string, memoryCapacity int) *WorldState {
	return &WorldState{
		Location:  startLocation,
		Inventory: make(map[string]struct{}),
		History:   make([]string, 0, 16),
		Memory:    NewMemoryLog(memoryCapacity),
		Actor:     actor,
	}
}

// Snapshot returns a deep, lock-free copy of the current state for reading
// from secondary contributors or for serialisation.
func (w *WorldState) Snapshot() WorldStateView {
	w.mu.RLock()
	defer w.mu.RUnlock()

	inv := make([]string, 0, len(w.Inventory))
	for item := range w.Inventory {
		inv = append(inv, item)
	}

	hist := make([]string, len(w.History))
	copy(hist, w.History)

	return WorldStateView{
		Location:  w.Location,
		Inventory: inv,
		History:   hist,
		Actor:     w.Actor,
	}
}

// WorldStateView is a read-only, serialisable view of a WorldState.
type WorldStateView struct {
	Location  string   `json:"location"`
	Inventory []string `json:"inventory"`
	History   []string `json:"history"`
	Actor     string   `json:"actor"`
}

// HasItem reports whether the given item is currently held.
func (w *WorldState) HasItem(item string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.Inventory[item]
	return ok
}

// HasAllItems reports whether every listed item is held. An empty list is
// vacuously true.
func (w *WorldState) HasAllItems(items []string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, item := range items {
		if _, ok := w.Inventory[item]; !ok {
			return false
		}
	}
	return true
}

// GrantItem adds an item to the inventory. Adding an already-held item is a
// no-op: the inventory is a set, never a multiset.
func (w *WorldState) GrantItem(item string) {
	if item == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Inventory[item] = struct{}{}
}

// ConsumeItem removes an item from the inventory if present.
func (w *WorldState) ConsumeItem(item string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.Inventory, item)
}

// AppendHistory appends a free-form record to history. History is
// append-only: no operation removes entries.
func (w *WorldState) AppendHistory(record string) {
	if record == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.History = append(w.History, record)
}

// HasHistoryAll reports whether every listed entry is present in history. An
// empty list is vacuously true.
func (w *WorldState) HasHistoryAll(entries []string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range entries {
		if !containsString(w.History, e) {
			return false
		}
	}
	return true
}

// HasHistoryAny reports whether at least one listed entry is present in
// history. An empty list is vacuously false.
func (w *WorldState) HasHistoryAny(entries []string) bool {
	if len(entries) == 0 {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range entries {
		if containsString(w.History, e) {
			return true
		}
	}
	return false
}

// ForbidsHistoryAny reports whether none of the listed entries appear in
// history. An empty list is vacuously true.
func (w *WorldState) ForbidsHistoryAny(entries []string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range entries {
		if containsString(w.History, e) {
			return false
		}
	}
	return true
}

// HasInventoryAny reports whether at least one listed item is held.
func (w *WorldState) HasInventoryAny(items []string) bool {
	if len(items) == 0 {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, item := range items {
		if _, ok := w.Inventory[item]; ok {
			return true
		}
	}
	return false
}

// ForbidsInventoryAny reports whether none of the listed items are held.
func (w *WorldState) ForbidsInventoryAny(items []string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, item := range items {
		if _, ok := w.Inventory[item]; ok {
			return false
		}
	}
	return true
}

// SetLocation moves the world to a new scene id. Callers are responsible for
// verifying the target exists in the active repository before calling this;
// CorruptWorldState is a session-fatal condition the coordinator surfaces if
// that invariant is ever violated.
func (w *WorldState) SetLocation(sceneID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Location = sceneID
}

// CurrentLocation returns the world's current scene id.
func (w *WorldState) CurrentLocation() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.Location
}

// HistoryLen returns the number of history entries.
func (w *WorldState) HistoryLen() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.History)
}

// Restore replaces the world's mutable fields wholesale; used only by
// snapshot restore, never by turn logic.
func (w *WorldState) Restore(view WorldStateView, memory *MemoryLog) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Location = view.Location
	w.Actor = view.Actor
	w.Inventory = make(map[string]struct{}, len(view.Inventory))
	for _, item := range view.Inventory {
		w.Inventory[item] = struct{}{}
	}
	w.History = append([]string(nil), view.History...)
	w.Memory = memory
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// StoryEngineError signals a fatal, session-level corruption such as a
// WorldState whose location does not name a scene in the active repository.
type StoryEngineError struct {
	Reason string
}

func (e *StoryEngineError) Error() string {
	return fmt.Sprintf("story engine error: %s", e.Reason)
}
