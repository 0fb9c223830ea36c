package contributor

import (
	"context"

	"orchestrator/pkg/storytypes"
)

// SceneLookup resolves the scene a contributor should see for the turn,
// keyed by the world's current location. Satisfied by
// (*scene.Repository).Get.
type SceneLookup func(id string) (storytypes.Scene, bool)

// CoordinatorAdapter adapts a Contributor to the coordinator-shaped
// interface (Decide without an explicit scene argument) by resolving the
// current scene from world's location at dispatch time.
type CoordinatorAdapter struct {
	contributor *Contributor
	lookup      SceneLookup
}

// NewCoordinatorAdapter wraps c for coordinator dispatch, resolving each
// turn's scene via lookup.
func NewCoordinatorAdapter(c *Contributor, lookup SceneLookup) *CoordinatorAdapter {
	return &CoordinatorAdapter{contributor: c, lookup: lookup}
}

// ID returns the wrapped contributor's identifier.
func (a *CoordinatorAdapter) ID() string { return a.contributor.ID() }

// SubscribesToPlayerInput reports the wrapped contributor's subscription.
func (a *CoordinatorAdapter) SubscribesToPlayerInput() bool {
	return a.contributor.SubscribesToPlayerInput()
}

// Decide resolves the scene for world's current location and delegates to
// the wrapped contributor. An unresolvable location is itself a
// CorruptWorldState condition, surfaced the same way the scripted engine
// would surface it.
func (a *CoordinatorAdapter) Decide(
	ctx context.Context, world *storytypes.WorldState, triggers []storytypes.AgentTrigger,
) (storytypes.StoryEvent, []storytypes.AgentTrigger, error) {
	current, ok := a.lookup(world.CurrentLocation())
	if !ok {
		return storytypes.StoryEvent{}, nil, &storytypes.StoryEngineError{
			Reason: "world state points at unknown scene " + world.CurrentLocation(),
		}
	}
	return a.contributor.Decide(ctx, world, triggers, current)
}
