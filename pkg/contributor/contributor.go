// Package contributor implements the LLM Contributor (C5): a coordinator
// participant that builds a prompt from WorldState and memory, calls a
// provider through the llm.Client contract, and parses a structured JSON
// reply into a StoryEvent.
package contributor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/storytypes"
)

// responseSchema is the machine-readable schema declaration stamped into
// every system prompt, instructing the model to respond with exactly this
// shape and nothing else.
const responseSchema = `Respond with a single JSON object and nothing else, matching exactly: ` +
	`{"narration": string, "choices": [{"command": string, "description": string}], "metadata": object?}`

// Config configures one LLM Contributor.
type Config struct {
	ID                      string
	ModelID                 string
	SystemPrompt            string
	Client                  llm.Client
	Temperature             float32
	MaxTokens               int
	MaxParseRetries         int // default 2, per spec
	SubscribesToPlayerInput bool
	HistoryWindow           int // how many recent history entries to include in context
	MemoryRequest           storytypes.MemoryRequest
}

// Contributor is an LLM-backed coordinator participant.
type Contributor struct {
	cfg Config
}

// New creates an LLM Contributor from cfg, applying spec defaults for any
// zero-valued tunables.
func New(cfg Config) *Contributor {
	if cfg.MaxParseRetries <= 0 {
		cfg.MaxParseRetries = 2
	}
	if cfg.MemoryRequest.ActionLimit == 0 && cfg.MemoryRequest.ObservationLimit == 0 {
		cfg.MemoryRequest = storytypes.DefaultMemoryRequest()
	}
	return &Contributor{cfg: cfg}
}

// ID returns the contributor's identifier, used for roster ordering,
// trigger addressing, and metadata namespacing.
func (c *Contributor) ID() string { return c.cfg.ID }

// SubscribesToPlayerInput reports whether this contributor receives the
// PlayerInput trigger broadcast every turn in addition to any directly
// addressed triggers.
func (c *Contributor) SubscribesToPlayerInput() bool { return c.cfg.SubscribesToPlayerInput }

// Decide builds a prompt from world and the inbound triggers, calls the
// provider, and returns the parsed StoryEvent. It never mutates world: an
// LLM Contributor is always a secondary, observing post-primary state.
func (c *Contributor) Decide(
	ctx context.Context, world *storytypes.WorldState, triggers []storytypes.AgentTrigger,
	scene storytypes.Scene,
) (storytypes.StoryEvent, []storytypes.AgentTrigger, error) {
	messages := c.assemblePrompt(world, triggers, scene)
	logx.Debug(ctx, "contributor", "%s deciding at %s", c.cfg.ID, scene.ID)

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxParseRetries; attempt++ {
		if attempt > 0 {
			logx.Debug(ctx, "contributor", "%s retry %d/%d after %v", c.cfg.ID, attempt, c.cfg.MaxParseRetries, lastErr)
			if delayErr := sleepForRetry(ctx, llmerrors.TypeOf(lastErr), attempt); delayErr != nil {
				return storytypes.StoryEvent{}, nil, delayErr
			}
			messages = append(messages, llm.UserMessage(clarifyingAppendix(lastErr)))
		}

		resp, err := c.cfg.Client.Complete(ctx, llm.Request{
			Messages:    messages,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err != nil {
			classified, ok := err.(*llmerrors.Error)
			if !ok {
				classified = llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified provider error")
			}
			if !classified.IsRetryable() {
				return storytypes.StoryEvent{}, nil, classified
			}
			lastErr = classified
			continue
		}

		event, parseErr := parseResponse(resp.Text)
		if parseErr != nil {
			lastErr = llmerrors.New(llmerrors.ErrorTypeParse, parseErr.Error())
			continue
		}

		if resp.Usage == nil {
			counter := NewTokenCounter(c.cfg.ModelID)
			resp.Usage = &llm.Usage{
				PromptTokens:     counter.Count(promptText(messages)),
				CompletionTokens: counter.Count(resp.Text),
			}
		}
		stampMetadata(&event, c.cfg.ID, c.cfg.ModelID, resp, time.Since(start))
		return event, nil, nil
	}

	return storytypes.StoryEvent{}, nil, lastErr
}

func sleepForRetry(ctx context.Context, t llmerrors.ErrorType, attempt int) error {
	cfg, ok := llmerrors.DefaultRetryConfigs[t]
	if !ok {
		cfg = llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeUnknown]
	}
	delay := llmerrors.Backoff(cfg, attempt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clarifyingAppendix(cause error) string {
	msg := "unknown parse failure"
	if cause != nil {
		msg = cause.Error()
	}
	return fmt.Sprintf(
		"Your previous reply could not be parsed (%s). Reply again with a single JSON object and nothing else, matching the schema exactly.",
		msg,
	)
}

// assemblePrompt builds the deterministic system/context/trigger message
// sequence described in spec §4.3.
func (c *Contributor) assemblePrompt(
	world *storytypes.WorldState, triggers []storytypes.AgentTrigger, scene storytypes.Scene,
) []llm.Message {
	system := strings.TrimSpace(c.cfg.SystemPrompt) + "\n\n" + responseSchema

	view := world.Snapshot()
	items := append([]string(nil), view.Inventory...)
	sort.Strings(items)

	history := view.History
	if c.cfg.HistoryWindow > 0 && len(history) > c.cfg.HistoryWindow {
		history = history[len(history)-c.cfg.HistoryWindow:]
	}

	memorySlice := world.Memory.Query(c.cfg.MemoryRequest)
	var memoryLines []string
	for _, e := range memorySlice {
		memoryLines = append(memoryLines, fmt.Sprintf("[%s] %s", e.Kind, e.Content))
	}

	var context strings.Builder
	fmt.Fprintf(&context, "Scene: %s\n", scene.Description)
	fmt.Fprintf(&context, "Choices: %s\n", formatChoices(scene.Choices))
	fmt.Fprintf(&context, "Inventory: %s\n", strings.Join(items, ", "))
	fmt.Fprintf(&context, "Recent history: %s\n", strings.Join(history, "; "))
	fmt.Fprintf(&context, "Memory: %s\n", strings.Join(memoryLines, "; "))

	var triggerText strings.Builder
	for _, t := range triggers {
		payload := ""
		if t.Payload != nil {
			payload = *t.Payload
		}
		switch t.Kind {
		case storytypes.TriggerAgentMessage:
			source := "unknown"
			if t.SourceAgent != nil {
				source = *t.SourceAgent
			}
			fmt.Fprintf(&triggerText, "Message from %s: %s\n", source, payload)
		default:
			fmt.Fprintf(&triggerText, "Command: %s\n", payload)
		}
	}

	return []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(context.String()),
		llm.UserMessage(triggerText.String()),
	}
}

func promptText(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func formatChoices(choices []storytypes.Choice) string {
	parts := make([]string, 0, len(choices))
	for _, c := range choices {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Command, c.Description))
	}
	return strings.Join(parts, ", ")
}

// rawResponse is the wire shape of a contributor's structured JSON reply.
type rawResponse struct {
	Narration string              `json:"narration"`
	Choices   []storytypes.Choice `json:"choices"`
	Metadata  map[string]any      `json:"metadata"`
}

// parseResponse validates and normalises a provider's reply text into a
// StoryEvent, per spec §4.3: narration non-empty, choices each non-empty,
// commands lowercased, duplicates deduplicated keeping the first.
func parseResponse(text string) (storytypes.StoryEvent, error) {
	var raw rawResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return storytypes.StoryEvent{}, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if strings.TrimSpace(raw.Narration) == "" {
		return storytypes.StoryEvent{}, fmt.Errorf("response narration must be non-empty")
	}

	seen := make(map[string]bool, len(raw.Choices))
	choices := make([]storytypes.Choice, 0, len(raw.Choices))
	for _, c := range raw.Choices {
		cmd := strings.ToLower(strings.TrimSpace(c.Command))
		desc := strings.TrimSpace(c.Description)
		if cmd == "" || desc == "" {
			return storytypes.StoryEvent{}, fmt.Errorf("response choice missing command or description")
		}
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		choices = append(choices, storytypes.Choice{Command: cmd, Description: desc})
	}

	return storytypes.StoryEvent{
		Narration: raw.Narration,
		Choices:   choices,
		Metadata:  raw.Metadata,
	}, nil
}

func stampMetadata(event *storytypes.StoryEvent, contributorID, modelID string, resp llm.Response, elapsed time.Duration) {
	if event.Metadata == nil {
		event.Metadata = make(map[string]any)
	}
	event.Metadata["contributor_id"] = contributorID
	event.Metadata["model_id"] = modelID
	event.Metadata["latency_ms"] = elapsed.Milliseconds()
	if resp.Usage != nil {
		event.Metadata["token_usage"] = map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		}
	}
}
