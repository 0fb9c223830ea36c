// Package anthropic adapts the Anthropic messages API to the
// llm.Client contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
)

// Client wraps the Anthropic SDK client to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
	maxCtx int
}

// New creates an Anthropic-backed contributor client for the given model.
// maxContextTokens feeds Capabilities() and is not enforced locally; the
// provider itself rejects requests that exceed its real context window.
func New(apiKey, model string, maxContextTokens int) *Client {
	return &Client{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0), // retries are the contributor's job
		),
		model:  anthropic.Model(model),
		maxCtx: maxContextTokens,
	}
}

// Capabilities reports this adapter's negotiated capability set.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: false, FunctionCalling: false, MaxContext: c.maxCtx}
}

// Complete sends req to Anthropic, extracting system messages to the
// top-level system parameter and enforcing strict user/assistant
// alternation, as the Anthropic wire format requires.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	systemPrompt, alternating, err := normalize(req.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeInvalidRequest, err.Error())
	}

	params := make([]anthropic.MessageParam, 0, len(alternating))
	for _, m := range alternating {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  params,
		Temperature: anthropic.Float(float64(req.Temperature)),
	})
	latency := time.Since(start)
	if err != nil {
		return llm.Response{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return llm.Response{
		Text: text.String(),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: string(resp.StopReason),
	}, nil
}

// normalize extracts system-role messages into a single system prompt and
// merges consecutive same-role messages so the remaining sequence strictly
// alternates user/assistant and starts and ends with user.
func normalize(messages []llm.Message) (systemPrompt string, alternating []llm.Message, err error) {
	if len(messages) == 0 {
		return "", nil, errors.New("message list cannot be empty")
	}

	var systemParts []string
	var rest []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	systemPrompt = strings.Join(systemParts, "\n\n")
	if len(rest) == 0 {
		return "", nil, errors.New("must have at least one non-system message")
	}

	var merged []llm.Message
	for _, m := range rest {
		role := m.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if len(merged) > 0 && merged[len(merged)-1].Role == role {
			merged[len(merged)-1].Content = strings.TrimSpace(merged[len(merged)-1].Content + "\n\n" + m.Content)
			continue
		}
		merged = append(merged, llm.Message{Role: role, Content: m.Content})
	}

	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// classify maps an Anthropic SDK error onto the shared taxonomy.
func classify(err error) *llmerrors.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeRateLimited, apiErr.StatusCode, apiErr.Error())
		case http.StatusUnauthorized, http.StatusForbidden:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, apiErr.Error())
		case http.StatusBadRequest:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeInvalidRequest, apiErr.StatusCode, apiErr.Error())
		default:
			if apiErr.StatusCode >= 500 {
				return llmerrors.NewWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, apiErr.Error())
			}
		}
	}
	return llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "anthropic request failed")
}
