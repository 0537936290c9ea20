// Package openai provides a backend adapter using the OpenAI Chat
// Completions API. It flattens the structured prompt into chat messages and
// returns the completion text for the executor to interpret.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/taskmesh/backend"
)

// Options configure the OpenAI backend adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend drives agent steps through the OpenAI Chat Completions API.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI backend using the official client
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI backend from an existing client
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Backend{client: client, opts: opts}
}

// Execute implements backend.Backend.
func (b *Backend) Execute(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if system := backend.SystemText(req); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	messages = append(messages, openai.UserMessage(backend.UserText(req)))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               b.opts.Model,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return nil, fmt.Errorf("openai: response contained no text (finish reason %q)", choice.FinishReason)
	}

	return json.RawMessage(choice.Message.Content), nil
}

// Info returns metadata describing this OpenAI backend implementation.
func (b *Backend) Info() backend.Info {
	return backend.Info{
		Name:     b.opts.Model,
		Provider: "openai",
	}
}
