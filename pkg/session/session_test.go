package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/scene"
	"orchestrator/pkg/sceneengine"
	"orchestrator/pkg/toolregistry"
)

const sessionTestDoc = `{
  "start": {
    "description": "You stand at a crossroads.",
    "choices": [{"command": "north", "description": "Walk north."}],
    "transitions": {"north": {"narration": "You walk north.", "target": "clearing"}}
  },
  "clearing": {
    "description": "A quiet clearing.",
    "choices": [],
    "transitions": {}
  }
}`

func newTestSession(t *testing.T) (*Session, *scene.Repository) {
	t.Helper()
	repo, err := scene.Parse([]byte(sessionTestDoc), false, scene.Options{})
	require.NoError(t, err)
	engine := sceneengine.New(repo, toolregistry.NewRegistry())
	primary := sceneengine.NewPrimaryContributor(engine)

	s, err := NewSession(repo, "start", primary, nil, nil, Options{Actor: "tester", MemoryCapacity: 20})
	require.NoError(t, err)
	return s, repo
}

func TestNewSessionRejectsUnknownStartScene(t *testing.T) {
	repo, err := scene.Parse([]byte(sessionTestDoc), false, scene.Options{})
	require.NoError(t, err)
	engine := sceneengine.New(repo, toolregistry.NewRegistry())
	primary := sceneengine.NewPrimaryContributor(engine)

	_, err = NewSession(repo, "nowhere", primary, nil, nil, Options{})
	assert.Error(t, err)
}

func TestAdvanceDrivesSceneTransition(t *testing.T) {
	s, _ := newTestSession(t)

	event, err := s.Advance(context.Background(), "north", 0)
	require.NoError(t, err)
	assert.Equal(t, "You walk north.", event.Narration)
	assert.Equal(t, "clearing", s.World().CurrentLocation())
	assert.Equal(t, 1, s.Turn())
}

func TestAdvanceHonoursDeadline(t *testing.T) {
	s, _ := newTestSession(t)
	event, err := s.Advance(context.Background(), "look", 5*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, event.Narration)
}

func TestBuiltinSaveIsMetadataOnlyForDriver(t *testing.T) {
	s, _ := newTestSession(t)
	event, err := s.Advance(context.Background(), "save", 0)
	require.NoError(t, err)
	assert.Empty(t, event.Narration)
	scriptedMeta, ok := event.Metadata["scripted"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "save", scriptedMeta["builtin_command"])
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.Advance(context.Background(), "north", 0)
	require.NoError(t, err)

	data, err := s.Snapshot(1700000000)
	require.NoError(t, err)

	fresh, _ := newTestSession(t)
	require.NoError(t, fresh.Restore(data))

	assert.Equal(t, s.World().CurrentLocation(), fresh.World().CurrentLocation())
	assert.Equal(t, s.Turn(), fresh.Turn())
}
