// Package coordinator implements the Multi-Agent Coordinator (C6): the
// ordered dispatcher that assembles one merged StoryEvent per turn from a
// roster of contributors, routes inter-agent triggers across turns, and
// isolates contributor failures.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/storytypes"
)

// Contributor is a coordinator participant: the scripted engine (always
// the primary, roster[0]) or an LLM Contributor (always secondary).
// Decide may mutate world only when the implementation is the primary;
// secondaries are passed the same *storytypes.WorldState but are expected,
// by contract rather than by the type system, to treat it as read-only.
type Contributor interface {
	ID() string
	SubscribesToPlayerInput() bool
	Decide(ctx context.Context, world *storytypes.WorldState, triggers []storytypes.AgentTrigger) (storytypes.StoryEvent, []storytypes.AgentTrigger, error)
}

// IsolationPolicy controls what happens to a contributor after it fails.
type IsolationPolicy string

const (
	// IsolationQuarantine permanently skips the contributor for the rest
	// of the session after its first failure. The default.
	IsolationQuarantine IsolationPolicy = "quarantine"
	// IsolationRetry leaves the contributor active after a failure: it is
	// simply skipped for the turn it failed on and tried again next turn.
	IsolationRetry IsolationPolicy = "retry"
)

// Recorder receives turn and contributor dispatch observations. A nil
// Recorder is treated as a no-op, so constructing a Coordinator without
// one (the common case in tests) costs nothing.
type Recorder interface {
	ObserveTurn(primaryID string, success bool, duration time.Duration)
	ObserveContributor(contributorID, status string, duration time.Duration)
	IncQuarantine(contributorID, reason string)
}

// Status is a contributor's runtime state within one session.
type Status string

const (
	StatusActive      Status = "active"
	StatusQuarantined Status = "quarantined"
)

// rosterEntry pairs a Contributor with its per-contributor policy and
// current status.
type rosterEntry struct {
	contributor Contributor
	policy      IsolationPolicy
	status      Status
}

// Coordinator holds the ordered roster and the cross-turn trigger queue
// for one session. It is not safe for concurrent use: the whole point of
// the turn protocol is strictly sequential dispatch within a session.
type Coordinator struct {
	roster   []*rosterEntry
	pending  []storytypes.QueuedMessage
	turn     int
	seq      int
	recorder Recorder
}

// SetRecorder attaches a Recorder for turn and contributor dispatch
// observability. Calling it with nil disables recording again.
func (c *Coordinator) SetRecorder(r Recorder) { c.recorder = r }

func (c *Coordinator) observeTurn(primaryID string, success bool, start time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveTurn(primaryID, success, time.Since(start))
	}
}

func (c *Coordinator) observeContributor(contributorID, status string, start time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveContributor(contributorID, status, time.Since(start))
	}
}

func (c *Coordinator) incQuarantine(contributorID, reason string) {
	if c.recorder != nil {
		c.recorder.IncQuarantine(contributorID, reason)
	}
}

// New creates a Coordinator. primary is required and is never quarantined;
// secondaries are dispatched in the given order after the primary on every
// turn. isolationPolicy defaults to IsolationQuarantine for any secondary
// not present in policies.
func New(primary Contributor, secondaries []Contributor, policies map[string]IsolationPolicy) (*Coordinator, error) {
	if primary == nil {
		return nil, fmt.Errorf("coordinator: a primary contributor is required")
	}
	c := &Coordinator{}
	c.roster = append(c.roster, &rosterEntry{contributor: primary, policy: IsolationQuarantine, status: StatusActive})
	for _, s := range secondaries {
		policy := IsolationQuarantine
		if p, ok := policies[s.ID()]; ok {
			policy = p
		}
		c.roster = append(c.roster, &rosterEntry{contributor: s, policy: policy, status: StatusActive})
	}
	return c, nil
}

// Turn returns the current turn counter.
func (c *Coordinator) Turn() int { return c.turn }

// PendingQueue returns a copy of the messages currently queued for
// delivery on a future turn, in enqueue-sequence order.
func (c *Coordinator) PendingQueue() []storytypes.QueuedMessage {
	out := make([]storytypes.QueuedMessage, len(c.pending))
	copy(out, c.pending)
	return out
}

// RestoreState replaces the coordinator's turn counter, pending queue, and
// quarantine set wholesale; used only by snapshot restore, never by turn
// logic. Unknown contributor ids in quarantinedIDs are ignored: a restored
// snapshot may predate a roster change.
func (c *Coordinator) RestoreState(turn int, pending []storytypes.QueuedMessage, quarantinedIDs []string) {
	c.turn = turn
	c.pending = append([]storytypes.QueuedMessage(nil), pending...)
	maxSeq := 0
	for _, m := range c.pending {
		if m.Sequence > maxSeq {
			maxSeq = m.Sequence
		}
	}
	c.seq = maxSeq

	quarantined := make(map[string]bool, len(quarantinedIDs))
	for _, id := range quarantinedIDs {
		quarantined[id] = true
	}
	for _, e := range c.roster {
		if quarantined[e.contributor.ID()] {
			e.status = StatusQuarantined
		} else {
			e.status = StatusActive
		}
	}
}

// QuarantinedIDs returns the ids of every contributor currently
// quarantined, sorted.
func (c *Coordinator) QuarantinedIDs() []string {
	var ids []string
	for _, e := range c.roster {
		if e.status == StatusQuarantined {
			ids = append(ids, e.contributor.ID())
		}
	}
	sort.Strings(ids)
	return ids
}

// Advance runs one full turn per spec §4.4 and returns the merged
// StoryEvent. A non-nil error means CorruptWorldState: a fatal,
// session-level condition the caller must recover from via a snapshot
// restore, not by calling Advance again.
func (c *Coordinator) Advance(ctx context.Context, world *storytypes.WorldState, playerInput string) (storytypes.StoryEvent, error) {
	c.turn++
	turnStart := time.Now()
	logx.Debug(ctx, "coordinator", "turn %d: dispatching primary %s", c.turn, c.roster[0].contributor.ID())

	preState := world.Snapshot()
	preMemory := world.Memory.Entries()

	world.Memory.Append(storytypes.MemoryEntry{
		Kind: storytypes.MemoryAction, Content: playerInput, Timestamp: nowUnix(),
	})

	playerTrigger := storytypes.AgentTrigger{
		Kind:    storytypes.TriggerPlayerInput,
		Payload: storytypes.StrPtr(playerInput),
	}

	primary := c.roster[0]
	primaryStart := time.Now()
	primaryEvent, primaryTriggers, err := primary.contributor.Decide(ctx, world, []storytypes.AgentTrigger{playerTrigger})
	if err != nil {
		c.observeContributor(primary.contributor.ID(), "error", primaryStart)
		if corrupt, ok := err.(*storytypes.StoryEngineError); ok {
			c.observeTurn(primary.contributor.ID(), false, turnStart)
			return storytypes.StoryEvent{}, corrupt
		}
		world.Restore(preState, storytypes.NewMemoryLog(world.Memory.Capacity()))
		world.Memory.Restore(preMemory)
		c.observeTurn(primary.contributor.ID(), false, turnStart)
		return c.errorEvent(err), nil
	}
	c.observeContributor(primary.contributor.ID(), "success", primaryStart)

	drained := c.drainQueue(world)
	var allContributions []contribution
	allContributions = append(allContributions, contribution{id: primary.contributor.ID(), event: primaryEvent})

	var newTriggers []storytypes.AgentTrigger
	newTriggers = append(newTriggers, tagSource(primaryTriggers, primary.contributor.ID())...)

	for _, entry := range c.roster[1:] {
		if entry.status == StatusQuarantined {
			continue
		}
		inbound := drained[entry.contributor.ID()]
		if entry.contributor.SubscribesToPlayerInput() {
			inbound = append([]storytypes.AgentTrigger{playerTrigger}, inbound...)
		}
		if len(inbound) == 0 {
			continue
		}

		secondaryStart := time.Now()
		logx.Debug(ctx, "coordinator", "turn %d: dispatching secondary %s", c.turn, entry.contributor.ID())
		event, triggers, decideErr := entry.contributor.Decide(ctx, world, inbound)
		if decideErr != nil {
			c.observeContributor(entry.contributor.ID(), "error", secondaryStart)
			allContributions = append(allContributions, contribution{id: entry.contributor.ID(), err: decideErr})
			if entry.policy != IsolationRetry {
				entry.status = StatusQuarantined
				c.incQuarantine(entry.contributor.ID(), decideErr.Error())
				logx.Debug(ctx, "coordinator", "quarantining %s: %v", entry.contributor.ID(), decideErr)
			}
			continue
		}
		c.observeContributor(entry.contributor.ID(), "success", secondaryStart)
		allContributions = append(allContributions, contribution{id: entry.contributor.ID(), event: event})
		newTriggers = append(newTriggers, tagSource(triggers, entry.contributor.ID())...)
	}

	c.enqueue(newTriggers)

	merged := c.merge(allContributions, world)
	world.Memory.Append(storytypes.MemoryEntry{
		Kind: storytypes.MemoryObservation, Content: merged.Narration, Timestamp: nowUnix(),
	})

	c.observeTurn(primary.contributor.ID(), true, turnStart)
	return merged, nil
}

type contribution struct {
	id    string
	event storytypes.StoryEvent
	err   error
}

func tagSource(triggers []storytypes.AgentTrigger, sourceID string) []storytypes.AgentTrigger {
	out := make([]storytypes.AgentTrigger, len(triggers))
	for i, t := range triggers {
		t.SourceAgent = storytypes.StrPtr(sourceID)
		out[i] = t
	}
	return out
}

// drainQueue collects every pending message addressed to an active,
// non-primary contributor whose enqueue turn is strictly before the
// current turn (i.e. "no earlier than turn T+1"), removes them from the
// pending queue, and groups them by target contributor id in FIFO order.
func (c *Coordinator) drainQueue(world *storytypes.WorldState) map[string][]storytypes.AgentTrigger {
	_ = world
	out := make(map[string][]storytypes.AgentTrigger)
	var remaining []storytypes.QueuedMessage

	activeTargets := make(map[string]bool)
	for _, e := range c.roster[1:] {
		if e.status == StatusActive {
			activeTargets[e.contributor.ID()] = true
		}
	}

	for _, msg := range c.pending {
		if msg.EnqueuedTurn >= c.turn {
			remaining = append(remaining, msg)
			continue
		}
		target := ""
		if msg.Trigger.TargetAgent != nil {
			target = *msg.Trigger.TargetAgent
		}
		if target == "" || !activeTargets[target] {
			// Quarantined or unknown targets: discard, per §4.4 state-machine
			// notes ("previously queued inbound messages are discarded").
			continue
		}
		out[target] = append(out[target], msg.Trigger)
	}

	c.pending = remaining
	return out
}

// enqueue appends every trigger to the pending queue, stamped with the
// current turn as its enqueue turn, so drainQueue first delivers it on the
// next turn. Broadcast triggers (TargetAgent nil) are expanded into
// one concrete QueuedMessage per active non-primary contributor other than
// the source, so each recipient's FIFO and at-most-once guarantees hold
// independently.
func (c *Coordinator) enqueue(triggers []storytypes.AgentTrigger) {
	nextTurn := c.turn + 1
	for _, t := range triggers {
		if t.TargetAgent != nil {
			c.seq++
			c.pending = append(c.pending, storytypes.QueuedMessage{Trigger: t, EnqueuedTurn: c.turn, Sequence: c.seq})
			_ = nextTurn
			continue
		}
		for _, e := range c.roster[1:] {
			if e.status != StatusActive {
				continue
			}
			if t.SourceAgent != nil && *t.SourceAgent == e.contributor.ID() {
				continue
			}
			specific := t
			specific.TargetAgent = storytypes.StrPtr(e.contributor.ID())
			c.seq++
			c.pending = append(c.pending, storytypes.QueuedMessage{Trigger: specific, EnqueuedTurn: c.turn, Sequence: c.seq})
		}
	}
}

func (c *Coordinator) errorEvent(cause error) storytypes.StoryEvent {
	return storytypes.StoryEvent{
		Narration: "Something went wrong assembling this turn.",
		Metadata: map[string]any{
			"turn":              c.turn,
			"error":             true,
			"contributor_error": "primary",
			"diagnostic":        cause.Error(),
		},
	}
}

// merge assembles the final StoryEvent per spec §4.4 step 6: primary
// narration first, then each contributing secondary's narration in roster
// order; choices deduplicated by lowercased command with first occurrence
// (primary, then roster order) winning; metadata namespaced per
// contributor plus top-level turn bookkeeping.
func (c *Coordinator) merge(contributions []contribution, world *storytypes.WorldState) storytypes.StoryEvent {
	var narrationParts []string
	var choices []storytypes.Choice
	seenCommands := make(map[string]bool)
	metadata := make(map[string]any)
	var active []string

	for _, contrib := range contributions {
		active = append(active, contrib.id)
		if contrib.err != nil {
			metadata[contrib.id] = map[string]any{"error": contrib.err.Error()}
			continue
		}
		if strings.TrimSpace(contrib.event.Narration) != "" {
			narrationParts = append(narrationParts, contrib.event.Narration)
		}
		for _, ch := range contrib.event.Choices {
			key := strings.ToLower(ch.Command)
			if seenCommands[key] {
				continue
			}
			seenCommands[key] = true
			choices = append(choices, ch)
		}
		if len(contrib.event.Metadata) > 0 {
			metadata[contrib.id] = contrib.event.Metadata
		}
	}

	metadata["turn"] = c.turn
	metadata["primary_location"] = world.CurrentLocation()
	metadata["active_contributors"] = active
	if q := c.QuarantinedIDs(); len(q) > 0 {
		metadata["quarantined"] = q
	}

	return storytypes.StoryEvent{
		Narration: strings.Join(narrationParts, "\n\n---\n\n"),
		Choices:   choices,
		Metadata:  metadata,
	}
}

func nowUnix() int64 { return time.Now().Unix() }
