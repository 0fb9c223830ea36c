package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validV1Doc = `{
  "start": {
    "description": "You stand at a crossroads.",
    "choices": [{"command": "north", "description": "Walk north."}],
    "transitions": {
      "north": {"narration": "You walk north.", "target": "clearing"}
    }
  },
  "clearing": {
    "description": "A quiet clearing.",
    "choices": [],
    "transitions": {}
  }
}`

const validV2Doc = `{
  "schema_version": 2,
  "start_scene": "start",
  "scenes": {
    "start": {
      "description": "You stand at a crossroads.",
      "choices": [{"command": "north", "description": "Walk north."}],
      "transitions": {
        "north": {"narration": "You walk north.", "target": "clearing"}
      }
    },
    "clearing": {
      "description": "A quiet clearing.",
      "choices": [],
      "transitions": {}
    }
  }
}`

func TestParseV1FlatDocument(t *testing.T) {
	repo, err := Parse([]byte(validV1Doc), false, Options{})
	require.NoError(t, err)
	assert.Equal(t, "start", repo.StartScene())
	assert.True(t, repo.Has("clearing"))
}

func TestParseV2EnvelopeEquivalentToV1(t *testing.T) {
	v1, err := Parse([]byte(validV1Doc), false, Options{})
	require.NoError(t, err)
	v2, err := Parse([]byte(validV2Doc), false, Options{})
	require.NoError(t, err)

	assert.Equal(t, v1.StartScene(), v2.StartScene())
	assert.ElementsMatch(t, v1.Scenes(), v2.Scenes())
}

func TestParseRejectsDanglingTransitionTarget(t *testing.T) {
	doc := `{
      "start": {
        "description": "A room.",
        "choices": [{"command": "north", "description": "go"}],
        "transitions": {"north": {"narration": "You go.", "target": "nowhere"}}
      }
    }`
	_, err := Parse([]byte(doc), false, Options{})
	require.Error(t, err)
	valErr, ok := err.(*SceneValidationError)
	require.True(t, ok)
	assert.Contains(t, valErr.Error(), "nowhere")
}

func TestParseRejectsChoiceWithoutTransitionOrBuiltin(t *testing.T) {
	doc := `{
      "start": {
        "description": "A room.",
        "choices": [{"command": "dance", "description": "boogie"}],
        "transitions": {}
      }
    }`
	_, err := Parse([]byte(doc), false, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dance")
}

func TestParseCollectsAllIssuesAtOnce(t *testing.T) {
	doc := `{
      "Bad Id": {
        "description": "",
        "choices": [],
        "transitions": {}
      }
    }`
	_, err := Parse([]byte(doc), false, Options{})
	require.Error(t, err)
	valErr, ok := err.(*SceneValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(valErr.Issues), 2)
}

func TestIsBuiltinCoversDriverDelegatedCommands(t *testing.T) {
	for _, cmd := range []string{"look", "inventory", "journal", "history", "recall", "help", "status", "save", "load", "tutorial", "quit"} {
		assert.True(t, IsBuiltin(cmd), cmd)
	}
	assert.False(t, IsBuiltin("dance"))
}

func TestValidSceneID(t *testing.T) {
	assert.True(t, ValidSceneID("forest-clearing_2"))
	assert.False(t, ValidSceneID("Forest Clearing"))
}
