// Package openai adapts the OpenAI-compatible chat completions API to the
// llm.Client contract. Any provider speaking the same wire shape (a
// genuine OpenAI deployment or a compatible gateway) can be reached by
// overriding the base URL at construction.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
)

// Client wraps the OpenAI SDK client to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
	maxCtx int
}

// New creates an OpenAI-compatible contributor client. baseURL may be
// empty to use the real OpenAI API, or set to reach a compatible gateway.
func New(apiKey, baseURL, model string, maxContextTokens int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		maxCtx: maxContextTokens,
	}
}

// Capabilities reports this adapter's negotiated capability set.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, FunctionCalling: true, MaxContext: c.maxCtx}
}

// Complete sends req as an OpenAI chat completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return llm.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeParse, "empty choices array in chat completion response")
	}

	return llm.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// classify maps an OpenAI SDK error onto the shared taxonomy.
func classify(err error) *llmerrors.Error {
	var apiErr *openai.Error
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
	return llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "openai request failed")
}
