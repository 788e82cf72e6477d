// Package llm wraps the upstream model provider behind small, testable
// interfaces. The backend is any OpenAI-compatible API (OpenRouter, OpenAI);
// the base URL and default credentials come from configuration, and a
// per-request API key may override the server key so users can bring their
// own.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nkoutris/go-chat-sync/internal/sysutil"
)

// Turn is one entry of the conversation sent upstream.
type Turn struct {
	Role    string
	Content string
}

// ChatRequest describes a single completion call.
type ChatRequest struct {
	Model    string
	Messages []Turn
	// APIKey optionally overrides the configured server key.
	APIKey string
}

// Client talks to the configured provider.
type Client struct {
	baseURL string
	apiKey  string
}

// New constructs a Client for the given provider endpoint. apiKey may be
// empty when every request carries its own key.
func New(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey}
}

// clientFor builds the SDK client, applying a per-request key override.
func (c *Client) clientFor(apiKey string) openai.Client {
	opts := []option.RequestOption{option.WithBaseURL(c.baseURL)}
	if key := sysutil.FirstNonEmpty(apiKey, c.apiKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return openai.NewClient(opts...)
}

// toParams converts request turns into SDK message unions. Error-kind
// history is filtered out by the caller; this layer sends what it is given.
func toParams(req ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, t := range req.Messages {
		switch t.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
	}
}

// StreamChat runs a streaming completion. onDelta is invoked once per
// content chunk as it arrives (it may be nil); the full accumulated text is
// returned after the stream settles. A stream error aborts the call and
// discards any partial content; the caller decides what to persist.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (string, error) {
	cl := c.clientFor(req.APIKey)

	stream := cl.Chat.Completions.NewStreaming(ctx, toParams(req))
	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("llm: stream: %w", err)
	}
	return b.String(), nil
}

// Complete runs a non-streaming completion and returns the full reply.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	cl := c.clientFor(req.APIKey)

	resp, err := cl.Chat.Completions.New(ctx, toParams(req))
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage produces one image for prompt and returns the hosted URL and
// the provider's revised prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt, size, quality, model, apiKey string) (imageURL, revisedPrompt string, err error) {
	cl := c.clientFor(apiKey)

	if size == "" {
		size = "1024x1024"
	}
	if quality == "" {
		quality = "standard"
	}
	if model == "" {
		model = "dall-e-3"
	}

	resp, err := cl.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  prompt,
		Model:   openai.ImageModel(model),
		Size:    openai.ImageGenerateParamsSize(size),
		Quality: openai.ImageGenerateParamsQuality(quality),
	})
	if err != nil {
		return "", "", fmt.Errorf("llm: image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", "", fmt.Errorf("llm: provider returned no images")
	}
	return resp.Data[0].URL, resp.Data[0].RevisedPrompt, nil
}
