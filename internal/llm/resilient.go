package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewpilot/internal/retry"
)

// ResilientClient wraps a Client with bounded-backoff retries and a
// per-request timeout. The analysis provider is treated as unreliable by
// contract: slow, rate-limited, and occasionally down.
type ResilientClient struct {
	client  Client
	cfg     retry.Config
	timeout time.Duration
}

// NewResilientClient wraps client with the given retry policy. A zero
// timeout disables the per-request deadline.
func NewResilientClient(client Client, cfg retry.Config, timeout time.Duration) *ResilientClient {
	return &ResilientClient{client: client, cfg: cfg, timeout: timeout}
}

// Generate calls the underlying client, retrying transient failures. The
// raw text of the last successful attempt is returned verbatim; it is the
// normalizer's job to make sense of it.
func (rc *ResilientClient) Generate(ctx context.Context, prompt string) (string, error) {
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	logger := zerolog.Ctx(ctx)

	var out string
	result := retry.Do(ctx, rc.cfg, *logger, func() error {
		var err error
		out, err = rc.client.Generate(ctx, prompt)
		return err
	})
	if !result.Success {
		return "", result.LastError
	}

	logger.Debug().Int("attempts", result.Attempts).
		Dur("elapsed", result.TotalDuration).
		Int("response_bytes", len(out)).
		Msg("analysis response received")
	return out, nil
}
