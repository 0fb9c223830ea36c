package scene

import (
	"fmt"
	"strings"

	"orchestrator/pkg/storytypes"
)

// Issue is one violation found during scene document validation: the path
// to the offending field and a human-readable message.
type Issue struct {
	Path    string
	Message string
}

// SceneValidationError collects every violation found while validating a
// scene document. Validation is total: a document either loads completely
// or not at all, and every problem is reported together.
type SceneValidationError struct {
	Issues []Issue
}

func (e *SceneValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scene validation failed with %d issue(s):", len(e.Issues))
	for _, iss := range e.Issues {
		fmt.Fprintf(&b, "\n  %s: %s", iss.Path, iss.Message)
	}
	return b.String()
}

// validate runs every §4.1 check against env and returns the accumulated
// issue list (empty if the document is fully valid).
func validate(env envelope) []Issue {
	var issues []Issue

	if len(env.Scenes) == 0 {
		issues = append(issues, Issue{Path: "<document>", Message: "document defines no scenes"})
		return issues
	}

	if env.StartScene != "" {
		if _, ok := env.Scenes[env.StartScene]; !ok {
			issues = append(issues, Issue{
				Path:    "start_scene",
				Message: fmt.Sprintf("start_scene %q names no scene in this document", env.StartScene),
			})
		}
	}

	for id, s := range env.Scenes {
		scenePath := fmt.Sprintf("scenes.%s", id)

		if !ValidSceneID(id) {
			issues = append(issues, Issue{
				Path:    scenePath,
				Message: fmt.Sprintf("scene id %q must match ^[a-z0-9_-]+$", id),
			})
		}
		if strings.TrimSpace(s.Description) == "" {
			issues = append(issues, Issue{Path: scenePath + ".description", Message: "description must be non-empty"})
		}

		issues = append(issues, validateChoices(scenePath, s)...)
		issues = append(issues, validateTransitions(scenePath, s, env.Scenes)...)
	}

	return issues
}

func validateChoices(scenePath string, s storytypes.Scene) []Issue {
	var issues []Issue
	seen := make(map[string]bool, len(s.Choices))

	for i, c := range s.Choices {
		choicePath := fmt.Sprintf("%s.choices[%d]", scenePath, i)

		cmd := strings.ToLower(strings.TrimSpace(c.Command))
		if cmd == "" {
			issues = append(issues, Issue{Path: choicePath + ".command", Message: "command must be non-empty"})
			continue
		}
		if cmd != c.Command {
			issues = append(issues, Issue{
				Path:    choicePath + ".command",
				Message: fmt.Sprintf("command %q must already be lowercased and trimmed", c.Command),
			})
		}
		if seen[cmd] {
			issues = append(issues, Issue{
				Path:    choicePath + ".command",
				Message: fmt.Sprintf("duplicate command %q within scene", cmd),
			})
		}
		seen[cmd] = true

		if strings.TrimSpace(c.Description) == "" {
			issues = append(issues, Issue{Path: choicePath + ".description", Message: "description must be non-empty"})
		}

		if _, hasTransition := s.Transitions[cmd]; !hasTransition && !IsBuiltin(cmd) {
			issues = append(issues, Issue{
				Path:    choicePath,
				Message: fmt.Sprintf("choice command %q has no transition entry and is not a built-in", cmd),
			})
		}
	}
	return issues
}

func validateTransitions(scenePath string, s storytypes.Scene, allScenes map[string]storytypes.Scene) []Issue {
	var issues []Issue

	choiceCommands := make(map[string]bool, len(s.Choices))
	for _, c := range s.Choices {
		choiceCommands[strings.ToLower(strings.TrimSpace(c.Command))] = true
	}

	for cmd, tr := range s.Transitions {
		trPath := fmt.Sprintf("%s.transitions.%s", scenePath, cmd)

		if !choiceCommands[cmd] && !IsBuiltin(cmd) {
			issues = append(issues, Issue{
				Path:    trPath,
				Message: fmt.Sprintf("transition key %q matches no choice command in this scene", cmd),
			})
		}
		if strings.TrimSpace(tr.Narration) == "" {
			issues = append(issues, Issue{Path: trPath + ".narration", Message: "narration must be non-empty"})
		}
		if tr.Target != nil {
			if _, ok := allScenes[*tr.Target]; !ok {
				issues = append(issues, Issue{
					Path:    trPath + ".target",
					Message: fmt.Sprintf("target %q names no scene in this document", *tr.Target),
				})
			}
		}
		for i, rec := range tr.Records {
			if strings.TrimSpace(rec) == "" {
				issues = append(issues, Issue{
					Path:    fmt.Sprintf("%s.records[%d]", trPath, i),
					Message: "records entries must be non-empty",
				})
			}
		}

		issues = append(issues, validateOverrides(trPath, tr.NarrationOverrides)...)
	}
	return issues
}

func validateOverrides(trPath string, overrides []storytypes.NarrationOverride) []Issue {
	var issues []Issue
	for i, ov := range overrides {
		ovPath := fmt.Sprintf("%s.narration_overrides[%d]", trPath, i)
		if strings.TrimSpace(ov.Narration) == "" {
			issues = append(issues, Issue{Path: ovPath + ".narration", Message: "narration must be non-empty"})
		}
		for _, rec := range ov.Records {
			if strings.TrimSpace(rec) == "" {
				issues = append(issues, Issue{Path: ovPath + ".records", Message: "records entries must be non-empty"})
				break
			}
		}
		for _, field := range [][]string{
			ov.RequiresHistoryAll, ov.RequiresHistoryAny, ov.ForbidsHistoryAny,
			ov.RequiresInventoryAll, ov.RequiresInventoryAny, ov.ForbidsInventoryAny,
		} {
			for _, entry := range field {
				if strings.TrimSpace(entry) == "" {
					issues = append(issues, Issue{Path: ovPath, Message: "override filter entries must be non-empty strings"})
				}
			}
		}
	}
	return issues
}
