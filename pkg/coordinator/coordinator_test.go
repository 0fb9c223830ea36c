package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/storytypes"
)

// stubContributor is a minimal Contributor for coordinator tests: it
// records every Decide call and returns a scripted event/triggers/error in
// sequence, repeating the last entry once exhausted.
type stubContributor struct {
	id          string
	subscribes  bool
	calls       [][]storytypes.AgentTrigger
	events      []storytypes.StoryEvent
	outTriggers [][]storytypes.AgentTrigger
	errs        []error
}

func (s *stubContributor) ID() string                    { return s.id }
func (s *stubContributor) SubscribesToPlayerInput() bool { return s.subscribes }

func (s *stubContributor) Decide(_ context.Context, _ *storytypes.WorldState, triggers []storytypes.AgentTrigger) (storytypes.StoryEvent, []storytypes.AgentTrigger, error) {
	idx := len(s.calls)
	s.calls = append(s.calls, triggers)

	event := storytypes.StoryEvent{}
	if idx < len(s.events) {
		event = s.events[idx]
	} else if len(s.events) > 0 {
		event = s.events[len(s.events)-1]
	}
	var out []storytypes.AgentTrigger
	if idx < len(s.outTriggers) {
		out = s.outTriggers[idx]
	}
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return event, out, err
}

func newWorld(t *testing.T) *storytypes.WorldState {
	t.Helper()
	return storytypes.NewWorldState("player", "start", 50)
}

func TestAdvanceMergesPrimaryAndSecondaryNarrationWithSeparator(t *testing.T) {
	primary := &stubContributor{id: "scripted", events: []storytypes.StoryEvent{
		{Narration: "You step forward.", Choices: []storytypes.Choice{{Command: "north"}}},
	}}
	secondary := &stubContributor{id: "stub", subscribes: true, events: []storytypes.StoryEvent{
		{Narration: "A raven watches.", Choices: []storytypes.Choice{{Command: "north"}, {Command: "wave"}}},
	}}

	c, err := New(primary, []Contributor{secondary}, nil)
	require.NoError(t, err)

	event, err := c.Advance(context.Background(), newWorld(t), "forward")
	require.NoError(t, err)

	assert.Equal(t, "You step forward.\n\n---\n\nA raven watches.", event.Narration)
	require.Len(t, event.Choices, 2)
	assert.Equal(t, "north", event.Choices[0].Command)
	assert.Equal(t, "wave", event.Choices[1].Command)
	assert.Equal(t, 1, c.Turn())
}

func TestAdvanceQuarantinesSecondaryOnFailure(t *testing.T) {
	primary := &stubContributor{id: "scripted", events: []storytypes.StoryEvent{{Narration: "You step forward."}}}
	secondary := &stubContributor{id: "stub", subscribes: true, errs: []error{errors.New("boom")}}

	c, err := New(primary, []Contributor{secondary}, nil)
	require.NoError(t, err)

	event, err := c.Advance(context.Background(), newWorld(t), "forward")
	require.NoError(t, err)
	assert.Equal(t, "You step forward.", event.Narration)
	assert.Equal(t, []string{"stub"}, event.Metadata["quarantined"])

	// Second advance: the quarantined secondary is never invoked again.
	_, err = c.Advance(context.Background(), newWorld(t), "forward")
	require.NoError(t, err)
	assert.Len(t, secondary.calls, 1)
}

func TestAdvanceRetryPolicyKeepsSecondaryActive(t *testing.T) {
	primary := &stubContributor{id: "scripted", events: []storytypes.StoryEvent{{Narration: "ok"}, {Narration: "ok"}}}
	secondary := &stubContributor{id: "stub", subscribes: true, errs: []error{errors.New("boom")}}

	c, err := New(primary, []Contributor{secondary}, map[string]IsolationPolicy{"stub": IsolationRetry})
	require.NoError(t, err)

	_, err = c.Advance(context.Background(), newWorld(t), "go")
	require.NoError(t, err)
	_, err = c.Advance(context.Background(), newWorld(t), "go")
	require.NoError(t, err)

	assert.Len(t, secondary.calls, 2)
	assert.Empty(t, c.QuarantinedIDs())
}

func TestPrimaryFailureRollsBackWorldAndMemory(t *testing.T) {
	primary := &stubContributor{id: "scripted", errs: []error{errors.New("scripted failure")}}
	c, err := New(primary, nil, nil)
	require.NoError(t, err)

	world := newWorld(t)
	world.AppendHistory("existing")

	event, err := c.Advance(context.Background(), world, "jump")
	require.NoError(t, err)
	assert.Equal(t, true, event.Metadata["error"])
	assert.Equal(t, []string{"existing"}, world.Snapshot().History)
	assert.Equal(t, 0, world.Memory.Len())
	assert.Equal(t, 1, c.Turn(), "the turn counter still advances even though the turn failed")
}

func TestPrimaryCorruptWorldStateIsFatal(t *testing.T) {
	primary := &stubContributor{id: "scripted", errs: []error{&storytypes.StoryEngineError{Reason: "unknown scene"}}}
	c, err := New(primary, nil, nil)
	require.NoError(t, err)

	_, err = c.Advance(context.Background(), newWorld(t), "go")
	require.Error(t, err)
	var engineErr *storytypes.StoryEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestTriggerDeliveredNoEarlierThanNextTurn(t *testing.T) {
	primary := &stubContributor{
		id: "scripted",
		events: []storytypes.StoryEvent{{Narration: "turn1"}, {Narration: "turn2"}},
		outTriggers: [][]storytypes.AgentTrigger{
			{{Kind: storytypes.TriggerAgentMessage, Payload: storytypes.StrPtr("ping"), TargetAgent: storytypes.StrPtr("stub")}},
			nil,
		},
	}
	secondary := &stubContributor{id: "stub", events: []storytypes.StoryEvent{{Narration: "got ping"}}}

	c, err := New(primary, []Contributor{secondary}, nil)
	require.NoError(t, err)

	world := newWorld(t)
	_, err = c.Advance(context.Background(), world, "go")
	require.NoError(t, err)
	assert.Empty(t, secondary.calls, "the message enqueued on turn 1 must not be delivered within turn 1")

	_, err = c.Advance(context.Background(), world, "go")
	require.NoError(t, err)
	require.Len(t, secondary.calls, 1)
	require.Len(t, secondary.calls[0], 1)
	assert.Equal(t, "ping", *secondary.calls[0][0].Payload)
}

func TestNewRequiresPrimary(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

type recordedCall struct {
	kind string
	id   string
	arg  string
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) ObserveTurn(primaryID string, success bool, _ time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	f.calls = append(f.calls, recordedCall{kind: "turn", id: primaryID, arg: status})
}

func (f *fakeRecorder) ObserveContributor(contributorID, status string, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{kind: "contributor", id: contributorID, arg: status})
}

func (f *fakeRecorder) IncQuarantine(contributorID, reason string) {
	f.calls = append(f.calls, recordedCall{kind: "quarantine", id: contributorID, arg: reason})
}

func TestSetRecorderObservesTurnAndQuarantine(t *testing.T) {
	primary := &stubContributor{id: "scripted", events: []storytypes.StoryEvent{{Narration: "ok"}}}
	secondary := &stubContributor{id: "stub", subscribes: true, errs: []error{errors.New("boom")}}

	c, err := New(primary, []Contributor{secondary}, nil)
	require.NoError(t, err)
	rec := &fakeRecorder{}
	c.SetRecorder(rec)

	_, err = c.Advance(context.Background(), newWorld(t), "go")
	require.NoError(t, err)

	assert.Contains(t, rec.calls, recordedCall{kind: "turn", id: "scripted", arg: "success"})
	assert.Contains(t, rec.calls, recordedCall{kind: "contributor", id: "scripted", arg: "success"})
	assert.Contains(t, rec.calls, recordedCall{kind: "contributor", id: "stub", arg: "error"})
	assert.Contains(t, rec.calls, recordedCall{kind: "quarantine", id: "stub", arg: "boom"})
}
