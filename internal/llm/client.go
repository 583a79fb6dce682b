// Package llm wraps the external analysis provider behind a single Client
// interface with retry and timeout handling. The provider is a black box:
// prompt in, raw text out, and everything downstream assumes the text may be
// malformed.
package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client generates a raw analysis response for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures the underlying model.
type Options struct {
	Provider    string // openai, gemini, claude, ollama
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

type langchainClient struct {
	model llms.Model
	opts  Options
}

// New creates a Client backed by the configured provider via langchaingo.
func New(ctx context.Context, opts Options) (Client, error) {
	var model llms.Model
	var err error

	switch opts.Provider {
	case "openai":
		model, err = newOpenAI(opts)
	case "gemini":
		model, err = googleai.New(ctx, googleai.WithAPIKey(opts.APIKey))
	case "claude":
		model, err = anthropic.New(anthropic.WithToken(opts.APIKey), anthropic.WithModel(opts.Model))
	case "ollama":
		model, err = newOllama(opts)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", opts.Provider, err)
	}

	return &langchainClient{model: model, opts: opts}, nil
}

func newOpenAI(opts Options) (llms.Model, error) {
	o := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	}
	if opts.BaseURL != "" {
		o = append(o, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(o...)
}

func newOllama(opts Options) (llms.Model, error) {
	o := []ollama.Option{ollama.WithModel(opts.Model)}
	if opts.BaseURL != "" {
		o = append(o, ollama.WithServerURL(opts.BaseURL))
	}
	return ollama.New(o...)
}

func (c *langchainClient) Generate(ctx context.Context, prompt string) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(c.opts.Temperature)}
	if c.opts.Provider == "gemini" {
		// The googleai client needs the model on every call.
		callOpts = append(callOpts, llms.WithModel(c.opts.Model))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("analysis generation failed: %w", err)
	}
	return out, nil
}
