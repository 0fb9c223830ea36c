// Package snapshot serialises and restores a session's WorldState, memory
// log, and coordinator trigger queue per the Session Snapshot format (C7).
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"orchestrator/pkg/coordinator"
	"orchestrator/pkg/storytypes"
)

// SchemaVersion is the only snapshot schema version this package emits or
// accepts.
const SchemaVersion = 1

// Snapshot is the wire shape described in spec §6: world state, memory,
// and coordinator queue, all JSON-serialisable.
type Snapshot struct {
	SchemaVersion int      `json:"schema_version"`
	CapturedAt    int64    `json:"captured_at"`
	World         worldDoc `json:"world"`
	Coordinator   coordDoc `json:"coordinator"`
}

type worldDoc struct {
	Location  string    `json:"location"`
	Inventory []string  `json:"inventory"`
	History   []string  `json:"history"`
	Memory    memoryDoc `json:"memory"`
	Actor     string    `json:"actor"`
}

type memoryDoc struct {
	Entries []storytypes.MemoryEntry `json:"entries"`
}

type coordDoc struct {
	Turn         int                        `json:"turn"`
	PendingQueue []storytypes.QueuedMessage `json:"pending_queue"`
	Quarantined  []string                   `json:"quarantined"`
}

// Capture builds a Snapshot from the given world and coordinator, stamped
// with capturedAt (a caller-supplied Unix timestamp, since this package
// performs no I/O and must stay deterministic for round-trip testing).
func Capture(world *storytypes.WorldState, coord *coordinator.Coordinator, capturedAt int64) Snapshot {
	view := world.Snapshot()

	inv := append([]string(nil), view.Inventory...)
	hist := append([]string(nil), view.History...)

	return Snapshot{
		SchemaVersion: SchemaVersion,
		CapturedAt:    capturedAt,
		World: worldDoc{
			Location:  view.Location,
			Inventory: inv,
			History:   hist,
			Memory:    memoryDoc{Entries: world.Memory.Entries()},
			Actor:     view.Actor,
		},
		Coordinator: coordDoc{
			Turn:         coord.Turn(),
			PendingQueue: coord.PendingQueue(),
			Quarantined:  coord.QuarantinedIDs(),
		},
	}
}

// Marshal serialises s to its canonical JSON encoding.
func Marshal(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal parses bytes produced by Marshal.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: invalid document: %w", err)
	}
	if s.SchemaVersion != SchemaVersion {
		return Snapshot{}, fmt.Errorf("snapshot: unsupported schema_version %d", s.SchemaVersion)
	}
	return s, nil
}

// SceneExists reports whether id names a scene, satisfied by
// (*scene.Repository).Has. Restore takes this as a parameter rather than a
// concrete repository type to avoid importing pkg/scene for a single
// boolean check.
type SceneExists func(id string) bool

// Restore rebuilds world and coord in place from s. It rejects a snapshot
// whose location does not exist in the active repository (checked via
// sceneExists) per §6, returning an error and leaving world/coord
// untouched.
func Restore(s Snapshot, world *storytypes.WorldState, coord *coordinator.Coordinator, memoryCapacity int, sceneExists SceneExists) error {
	if sceneExists != nil && !sceneExists(s.World.Location) {
		return fmt.Errorf("snapshot: location %q does not exist in the active repository", s.World.Location)
	}

	memory := storytypes.NewMemoryLog(memoryCapacity)
	memory.Restore(s.World.Memory.Entries)

	world.Restore(storytypes.WorldStateView{
		Location:  s.World.Location,
		Inventory: s.World.Inventory,
		History:   s.World.History,
		Actor:     s.World.Actor,
	}, memory)

	coord.RestoreState(s.Coordinator.Turn, s.Coordinator.PendingQueue, s.Coordinator.Quarantined)
	return nil
}
