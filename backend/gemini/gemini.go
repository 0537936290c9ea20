// Package gemini provides a backend adapter for the Google Gemini API. It
// requests JSON output directly via the response MIME type so no markdown
// fence stripping is needed on the happy path.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/hupe1980/taskmesh/backend"
)

// Options configures the Gemini backend adapter.
type Options struct {
	Model       string
	Temperature float32
	APIKey      string
}

// Backend drives agent steps through the Gemini GenerateContent API.
type Backend struct {
	client *genai.Client
	opts   Options
}

// New creates a new Gemini backend. The client holds a connection, call
// Close when done.
func New(ctx context.Context, optFns ...func(o *Options)) (*Backend, error) {
	opts := Options{
		Model:       "gemini-1.5-flash",
		Temperature: 0.2,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.ClientOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &Backend{client: client, opts: opts}, nil
}

// Execute implements backend.Backend.
func (b *Backend) Execute(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	model := b.client.GenerativeModel(b.opts.Model)
	model.SetTemperature(b.opts.Temperature)
	model.ResponseMIMEType = "application/json"

	if system := backend.SystemText(req); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(backend.UserText(req)))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	text := firstText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini: response contained no text")
	}

	return json.RawMessage(text), nil
}

// Close releases the underlying API client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Info returns metadata describing this Gemini backend implementation.
func (b *Backend) Info() backend.Info {
	return backend.Info{
		Name:     b.opts.Model,
		Provider: "gemini",
	}
}

func firstText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}

	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}

		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}

	return ""
}
