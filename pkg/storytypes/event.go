package storytypes

// StoryEvent is a contributor's (or the coordinator's merged) output for a
// turn: narration to show the player, the choices currently available, and
// metadata namespaced by contributor id.
type StoryEvent struct {
	Narration string         `json:"narration"`
	Choices   []Choice       `json:"choices"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TriggerKind enumerates the three kinds of AgentTrigger.
type TriggerKind string

const (
	TriggerPlayerInput  TriggerKind = "player_input"
	TriggerAgentMessage TriggerKind = "agent_message"
	TriggerSystem       TriggerKind = "system"
)

// AgentTrigger is a message that causes a contributor to be invoked on a
// turn. TargetAgent nil means broadcast to every contributor except
// SourceAgent; a non-nil TargetAgent delivers only to that contributor.
type AgentTrigger struct {
	Kind        TriggerKind    `json:"kind"`
	Payload     *string        `json:"payload,omitempty"`
	SourceAgent *string        `json:"source_agent,omitempty"`
	TargetAgent *string        `json:"target_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Broadcast reports whether the trigger targets every contributor except
// its source.
func (t AgentTrigger) Broadcast() bool {
	return t.TargetAgent == nil
}

// AddressedTo reports whether the trigger should be delivered to the named
// contributor: either it is a broadcast and the contributor is not the
// source, or the contributor is the specific target.
func (t AgentTrigger) AddressedTo(contributorID string) bool {
	if t.TargetAgent != nil {
		return *t.TargetAgent == contributorID
	}
	return t.SourceAgent == nil || *t.SourceAgent != contributorID
}

// QueuedMessage pairs a trigger with the turn on which it was enqueued. A
// message enqueued on turn T is delivered no earlier than turn T+1.
type QueuedMessage struct {
	Trigger     AgentTrigger `json:"trigger"`
	EnqueuedTurn int         `json:"enqueued_turn"`
	// Sequence is the global enqueue order, used as the final tiebreak so
	// delivery is deterministic across messages enqueued the same turn.
	Sequence int `json:"sequence"`
}

// StrPtr is a convenience constructor for the optional string-pointer
// fields on AgentTrigger and QueuedMessage.
func StrPtr(s string) *string { return &s }
