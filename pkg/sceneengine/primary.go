package sceneengine

import (
	"context"

	"orchestrator/pkg/storytypes"
)

// PrimaryContributor adapts an Engine to a coordinator-shaped Contributor:
// ID/SubscribesToPlayerInput/Decide(ctx, world, triggers). It is always the
// roster's primary, the only contributor permitted to mutate WorldState,
// and never subscribes to the player_input broadcast since it receives the
// turn's trigger directly as its sole argument.
type PrimaryContributor struct {
	engine *Engine
}

// NewPrimaryContributor wraps engine for coordinator dispatch.
func NewPrimaryContributor(engine *Engine) *PrimaryContributor {
	return &PrimaryContributor{engine: engine}
}

// ID returns the fixed scripted-engine contributor id.
func (p *PrimaryContributor) ID() string { return ContributorID }

// SubscribesToPlayerInput is always false: the coordinator calls the
// primary once per turn with the player_input trigger as its only member.
func (p *PrimaryContributor) SubscribesToPlayerInput() bool { return false }

// Decide resolves the first trigger (the turn's player_input) against the
// current scene. Any triggers beyond the first are ignored: the scripted
// engine never originates agent_message triggers of its own.
func (p *PrimaryContributor) Decide(
	ctx context.Context, world *storytypes.WorldState, triggers []storytypes.AgentTrigger,
) (storytypes.StoryEvent, []storytypes.AgentTrigger, error) {
	var trigger storytypes.AgentTrigger
	if len(triggers) > 0 {
		trigger = triggers[0]
	}
	event, err := p.engine.ProposeEvent(ctx, world, trigger)
	if err != nil {
		return storytypes.StoryEvent{}, nil, err
	}
	return event, nil, nil
}
