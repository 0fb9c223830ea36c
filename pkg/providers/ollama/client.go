// Package ollama adapts a local Ollama server to the llm.Client contract,
// for offline or self-hosted model-backed contributors.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmerrors"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
	maxCtx int
}

// New creates an Ollama-backed contributor client. hostURL should be the
// server's base URL (e.g. "http://localhost:11434"); an invalid URL falls
// back to that default.
func New(hostURL, model string, maxContextTokens int) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
		maxCtx: maxContextTokens,
	}
}

// Capabilities reports this adapter's negotiated capability set. Ollama
// serves whatever local model is loaded; function calling support varies
// by model, so it is conservatively reported as unavailable.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: false, FunctionCalling: false, MaxContext: c.maxCtx}
}

// Complete sends req to the local Ollama server as a non-streaming chat
// completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	latency := time.Since(start)
	if err != nil {
		return llm.Response{}, classify(err)
	}

	finish := "stop"
	if !resp.Done {
		finish = "incomplete"
	}

	return llm.Response{
		Text:         resp.Message.Content,
		Usage:        &llm.Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount},
		LatencyMS:    latency.Milliseconds(),
		FinishReason: finish,
	}, nil
}

// classify maps an Ollama client error onto the shared taxonomy. The
// Ollama API client surfaces failures as plain errors (usually connection
// or decode problems against a local server), so these are treated as
// transient rather than permanently fatal.
func classify(err error) *llmerrors.Error {
	var statusErr api.StatusError
	if ok := asStatusError(err, &statusErr); ok {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeRateLimited, statusErr.StatusCode, statusErr.Error())
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeAuth, statusErr.StatusCode, statusErr.Error())
		case statusErr.StatusCode >= 500:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeTransient, statusErr.StatusCode, statusErr.Error())
		case statusErr.StatusCode >= 400:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeInvalidRequest, statusErr.StatusCode, statusErr.Error())
		}
	}
	return llmerrors.NewWithCause(llmerrors.ErrorTypeTransient, err, "ollama request failed")
}

func asStatusError(err error, target *api.StatusError) bool {
	se, ok := err.(api.StatusError) //nolint:errorlint // api.StatusError is a value type, not wrapped
	if !ok {
		return false
	}
	*target = se
	return true
}
