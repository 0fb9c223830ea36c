package storytypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogEvictsOldestAtCapacity(t *testing.T) {
	m := NewMemoryLog(2)
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "one"})
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "two"})
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "three"})

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Content)
	assert.Equal(t, "three", entries[1].Content)
}

func TestMemoryLogZeroCapacityDiscardsAppends(t *testing.T) {
	m := NewMemoryLog(0)
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "ignored"})
	assert.Equal(t, 0, m.Len())
}

func TestMemoryLogQuerySlicesByKindIndependently(t *testing.T) {
	m := NewMemoryLog(20)
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "a1"})
	m.Append(MemoryEntry{Kind: MemoryObservation, Content: "o1"})
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "a2"})
	m.Append(MemoryEntry{Kind: MemoryObservation, Content: "o2"})
	m.Append(MemoryEntry{Kind: MemoryAction, Content: "a3"})

	got := m.Query(MemoryRequest{ActionLimit: 2, ObservationLimit: 1})
	var actions, observations []string
	for _, e := range got {
		switch e.Kind {
		case MemoryAction:
			actions = append(actions, e.Content)
		case MemoryObservation:
			observations = append(observations, e.Content)
		}
	}
	assert.Equal(t, []string{"a2", "a3"}, actions)
	assert.Equal(t, []string{"o2"}, observations)
}

func TestMemoryLogQueryFiltersByTag(t *testing.T) {
	m := NewMemoryLog(20)
	m.Append(MemoryEntry{Kind: MemoryObservation, Content: "plain"})
	m.Append(MemoryEntry{Kind: MemoryObservation, Content: "tagged", Tags: []string{"quest"}})

	got := m.Query(MemoryRequest{ObservationLimit: -1, TagFilter: []string{"quest"}})
	require.Len(t, got, 1)
	assert.Equal(t, "tagged", got[0].Content)
}

func TestMemoryLogRestoreTruncatesToCapacity(t *testing.T) {
	m := NewMemoryLog(2)
	m.Restore([]MemoryEntry{
		{Kind: MemoryAction, Content: "a1"},
		{Kind: MemoryAction, Content: "a2"},
		{Kind: MemoryAction, Content: "a3"},
	})
	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a2", entries[0].Content)
	assert.Equal(t, "a3", entries[1].Content)
}
