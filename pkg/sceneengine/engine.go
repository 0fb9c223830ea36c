// Package sceneengine implements the Scripted Scene Machine (C4): the
// deterministic, data-driven state machine that resolves a player command
// against the current scene, applies its effects atomically, and emits a
// StoryEvent.
package sceneengine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/scene"
	"orchestrator/pkg/storytypes"
	"orchestrator/pkg/toolregistry"
)

// ContributorID is the fixed identifier the scripted engine stamps into
// merged metadata as the primary contributor.
const ContributorID = "scripted"

// Engine is the Scripted Scene Machine bound to one scene repository and
// tool registry. It holds no per-session mutable state of its own: all
// state lives in the WorldState passed to ProposeEvent.
type Engine struct {
	repo  *scene.Repository
	tools *toolregistry.Registry
}

// New creates a Scripted Scene Machine over repo, consulting tools for any
// command that isn't a built-in or a scene transition.
func New(repo *scene.Repository, tools *toolregistry.Registry) *Engine {
	return &Engine{repo: repo, tools: tools}
}

// ProposeEvent resolves trigger against world's current scene and returns
// the resulting StoryEvent. It never returns an error for ordinary runtime
// conditions (unknown commands, gated transitions, tool failure all
// produce events); it returns a *storytypes.StoryEngineError only when
// world.location names no scene in the repository, which is a fatal,
// session-level condition the coordinator must surface, not recover from.
func (e *Engine) ProposeEvent(ctx context.Context, world *storytypes.WorldState, trigger storytypes.AgentTrigger) (storytypes.StoryEvent, error) {
	current, ok := e.repo.Get(world.CurrentLocation())
	if !ok {
		return storytypes.StoryEvent{}, &storytypes.StoryEngineError{
			Reason: fmt.Sprintf("world state points at unknown scene %q", world.CurrentLocation()),
		}
	}

	raw := ""
	if trigger.Payload != nil {
		raw = *trigger.Payload
	}
	command, argument := splitCommand(raw)
	logx.Debug(ctx, "scene", "resolving %q at %s", command, current.ID)

	switch {
	case scene.IsBuiltin(command):
		return e.runBuiltin(command, world, current), nil
	case e.tools != nil && e.tools.Has(command):
		return e.runTool(command, argument, world, current), nil
	default:
		if tr, ok := current.Transitions[command]; ok {
			return e.runTransition(ctx, world, current, tr), nil
		}
		return e.unrecognised(current), nil
	}
}

// splitCommand lowercases and trims the verb, returning it with the
// remainder of the input as its argument.
func splitCommand(input string) (command, argument string) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	command = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		argument = strings.TrimSpace(parts[1])
	}
	return command, argument
}

func (e *Engine) runBuiltin(command string, world *storytypes.WorldState, current storytypes.Scene) storytypes.StoryEvent {
	meta := map[string]any{"location": world.CurrentLocation()}

	switch command {
	case "look":
		return storytypes.StoryEvent{
			Narration: current.Description,
			Choices:   visibleChoices(current),
			Metadata:  withContributor(meta),
		}
	case "inventory":
		view := world.Snapshot()
		items := append([]string(nil), view.Inventory...)
		sort.Strings(items)
		narration := "Your pack holds nothing."
		if len(items) > 0 {
			narration = "You are carrying: " + strings.Join(items, ", ") + "."
		}
		return storytypes.StoryEvent{Narration: narration, Choices: visibleChoices(current), Metadata: withContributor(meta)}
	case "journal", "history":
		view := world.Snapshot()
		narration := "Your journal is empty."
		if len(view.History) > 0 {
			narration = strings.Join(view.History, "\n")
		}
		return storytypes.StoryEvent{Narration: narration, Choices: visibleChoices(current), Metadata: withContributor(meta)}
	case "recall":
		entries := world.Memory.Entries()
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, fmt.Sprintf("[%s] %s", entry.Kind, entry.Content))
		}
		narration := "Nothing comes to mind."
		if len(lines) > 0 {
			narration = strings.Join(lines, "\n")
		}
		return storytypes.StoryEvent{Narration: narration, Choices: visibleChoices(current), Metadata: withContributor(meta)}
	default:
		// help, status, save, load: metadata-only, delegated to the driver.
		meta["builtin_command"] = command
		return storytypes.StoryEvent{Narration: "", Choices: visibleChoices(current), Metadata: withContributor(meta)}
	}
}

func (e *Engine) runTool(command, argument string, world *storytypes.WorldState, current storytypes.Scene) storytypes.StoryEvent {
	result := e.tools.Dispatch(command, argument, world.Snapshot())
	meta := withContributor(map[string]any{
		"location": world.CurrentLocation(),
		"tool":     command,
		"ok":       result.Ok,
	})
	for k, v := range result.Metadata {
		meta[k] = v
	}
	return storytypes.StoryEvent{Narration: result.Narration, Choices: visibleChoices(current), Metadata: meta}
}

func (e *Engine) unrecognised(current storytypes.Scene) storytypes.StoryEvent {
	return storytypes.StoryEvent{
		Narration: "You can't do that here.",
		Choices:   visibleChoices(current),
		Metadata:  withContributor(map[string]any{"unrecognised": true}),
	}
}

// runTransition applies one transition atomically: either the gate fails
// and nothing changes, or every effect in §4.2 step 2 applies in order
// before narration is selected.
func (e *Engine) runTransition(ctx context.Context, world *storytypes.WorldState, current storytypes.Scene, tr storytypes.Transition) storytypes.StoryEvent {
	if missing := missingRequirements(world, tr.Requires); len(missing) > 0 {
		narration := tr.FailureNarration
		if narration == "" {
			narration = "You're missing: " + strings.Join(missing, ", ") + "."
		}
		return storytypes.StoryEvent{
			Narration: narration,
			Choices:   visibleChoices(current),
			Metadata: withContributor(map[string]any{
				"location":      world.CurrentLocation(),
				"gated":         true,
				"missing_items": missing,
			}),
		}
	}

	for _, item := range tr.Consumes {
		world.ConsumeItem(item)
	}
	if tr.Item != "" {
		world.GrantItem(tr.Item)
	}
	for _, rec := range tr.Records {
		world.AppendHistory(rec)
	}
	if tr.Target != nil {
		world.SetLocation(*tr.Target)
	}

	narration := tr.Narration
	overrideUsed := any(false)
	for i, ov := range tr.NarrationOverrides {
		if ov.Matches(world) {
			narration = ov.Narration
			for _, rec := range ov.Records {
				world.AppendHistory(rec)
			}
			overrideUsed = i
			logx.Debug(ctx, "scene", "narration override %d matched for %s", i, current.ID)
			break
		}
	}

	next, ok := e.repo.Get(world.CurrentLocation())
	var choices []storytypes.Choice
	if ok {
		choices = visibleChoices(next)
	}

	return storytypes.StoryEvent{
		Narration: narration,
		Choices:   choices,
		Metadata: withContributor(map[string]any{
			"location":          world.CurrentLocation(),
			"items_granted":     nonEmpty(tr.Item),
			"items_consumed":    tr.Consumes,
			"records_appended":  tr.Records,
			"override_used":     overrideUsed,
		}),
	}
}

func missingRequirements(world *storytypes.WorldState, required []string) []string {
	var missing []string
	for _, item := range required {
		if !world.HasItem(item) {
			missing = append(missing, item)
		}
	}
	return missing
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func visibleChoices(s storytypes.Scene) []storytypes.Choice {
	return append([]storytypes.Choice(nil), s.Choices...)
}

func withContributor(meta map[string]any) map[string]any {
	meta["contributor_id"] = ContributorID
	return meta
}
