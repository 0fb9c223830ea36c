// Package gemini adapts the Google GenAI API to the llm.Client contract.
package gemini

import (
	"context"
	"time"

	"google.golang.org/genai"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
)

// Client wraps the Google GenAI client to implement llm.Client. The
// underlying genai.Client is created lazily on first use because its
// constructor needs a context that Complete's caller supplies, not New's.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
	maxCtx int
}

// New creates a Gemini-backed contributor client for the given model.
func New(apiKey, model string, maxContextTokens int) *Client {
	return &Client{apiKey: apiKey, model: model, maxCtx: maxContextTokens}
}

// Capabilities reports this adapter's negotiated capability set.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: false, FunctionCalling: true, MaxContext: c.maxCtx}
}

// Complete sends req to Gemini, extracting any system-role message into
// the request's SystemInstruction.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return llm.Response{}, llmerrors.NewWithCause(llmerrors.ErrorTypeTransient, err, "failed to create gemini client")
		}
		c.client = client
	}

	var contents []*genai.Content
	var systemInstruction string
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += m.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp, MaxOutputTokens: int32(req.MaxTokens)}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		return llm.Response{}, llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "gemini request failed")
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeParse, "empty response from gemini")
	}

	var usage *llm.Usage
	if result.UsageMetadata != nil {
		usage = &llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}

	finish := ""
	if len(result.Candidates) > 0 {
		finish = string(result.Candidates[0].FinishReason)
	}

	return llm.Response{
		Text:         result.Text(),
		Usage:        usage,
		LatencyMS:    latency.Milliseconds(),
		FinishReason: finish,
	}, nil
}
