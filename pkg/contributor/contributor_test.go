package contributor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
	"orchestrator/pkg/storytypes"
)

// stubClient plays back a scripted sequence of responses/errors, repeating
// the last entry once exhausted, and records every request it received.
type stubClient struct {
	responses []llm.Response
	errs      []error
	requests  []llm.Request
	caps      llm.Capabilities
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	idx := len(s.requests)
	s.requests = append(s.requests, req)

	if idx < len(s.errs) && s.errs[idx] != nil {
		return llm.Response{}, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return llm.Response{}, nil
}

func (s *stubClient) Capabilities() llm.Capabilities { return s.caps }

func testScene() storytypes.Scene {
	return storytypes.Scene{
		ID:          "start",
		Description: "A quiet clearing.",
		Choices:     []storytypes.Choice{{Command: "north", Description: "Walk north."}},
	}
}

func testWorld() *storytypes.WorldState {
	return storytypes.NewWorldState("player", "start", 10)
}

func jsonResponse(text string) llm.Response {
	return llm.Response{Text: text, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}}
}

func TestDecideSucceedsOnFirstAttempt(t *testing.T) {
	client := &stubClient{responses: []llm.Response{
		jsonResponse(`{"narration": "A raven watches from the branches.", "choices": [{"command": "wave", "description": "Wave at it."}]}`),
	}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client})

	event, triggers, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.NoError(t, err)
	assert.Nil(t, triggers)
	assert.Equal(t, "A raven watches from the branches.", event.Narration)
	require.Len(t, event.Choices, 1)
	assert.Equal(t, "wave", event.Choices[0].Command)

	assert.Equal(t, "muse", event.Metadata["contributor_id"])
	assert.Equal(t, "claude", event.Metadata["model_id"])
	assert.Len(t, client.requests, 1)
}

func TestDecideRetriesOnParseFailureWithClarifyingAppendix(t *testing.T) {
	client := &stubClient{responses: []llm.Response{
		jsonResponse(`not json at all`),
		jsonResponse(`{"narration": "Recovered.", "choices": []}`),
	}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 2})

	event, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", event.Narration)
	require.Len(t, client.requests, 2)

	secondReq := client.requests[1]
	lastMsg := secondReq.Messages[len(secondReq.Messages)-1]
	assert.Equal(t, llm.RoleUser, lastMsg.Role)
	assert.NotEmpty(t, lastMsg.Content, "a clarifying appendix must be appended before retrying")
}

func TestDecideExhaustsRetriesAndSurfacesParseError(t *testing.T) {
	client := &stubClient{responses: []llm.Response{
		jsonResponse(`garbage`),
		jsonResponse(`still garbage`),
		jsonResponse(`more garbage`),
	}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 2})

	_, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.Error(t, err)
	assert.Len(t, client.requests, 3, "one initial attempt plus two retries")
}

func TestDecideReturnsImmediatelyOnNonRetryableError(t *testing.T) {
	client := &stubClient{errs: []error{llmerrors.New(llmerrors.ErrorTypeAuth, "invalid api key")}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 3})

	_, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Len(t, client.requests, 1, "a non-retryable error must not be retried")
}

func TestDecideExhaustsRetriesOnTransientProviderError(t *testing.T) {
	transientErr := llmerrors.New(llmerrors.ErrorTypeTransient, "connection reset")
	client := &stubClient{errs: []error{transientErr, transientErr, transientErr}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 2})

	_, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient))
	assert.Len(t, client.requests, 3)
}

func TestDecideRejectsEmptyNarration(t *testing.T) {
	client := &stubClient{responses: []llm.Response{jsonResponse(`{"narration": "", "choices": []}`)}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 0})

	_, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.Error(t, err)
}

func TestDecideDedupesChoiceCommandsKeepingFirstOccurrence(t *testing.T) {
	client := &stubClient{responses: []llm.Response{
		jsonResponse(`{"narration": "ok", "choices": [{"command": "Wave", "description": "first"}, {"command": "wave", "description": "second"}]}`),
	}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client})

	event, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.NoError(t, err)
	require.Len(t, event.Choices, 1)
	assert.Equal(t, "wave", event.Choices[0].Command)
	assert.Equal(t, "first", event.Choices[0].Description)
}

func TestDecideRejectsChoiceWithEmptyCommandOrDescription(t *testing.T) {
	client := &stubClient{responses: []llm.Response{
		jsonResponse(`{"narration": "ok", "choices": [{"command": "", "description": "no command"}]}`),
	}}
	c := New(Config{ID: "muse", ModelID: "claude", Client: client, MaxParseRetries: 0})

	_, _, err := c.Decide(context.Background(), testWorld(), nil, testScene())
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{ID: "muse", ModelID: "claude", Client: &stubClient{}})
	assert.Equal(t, "muse", c.ID())
	assert.False(t, c.SubscribesToPlayerInput())
}
