package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reviewpilot/internal/retry"
)

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fake exhausted")
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestResilientClient_RecoversFromTransientFailure(t *testing.T) {
	fake := &fakeClient{
		errs:      []error{errors.New("429 too many requests"), nil},
		responses: []string{"", `{"findings": []}`},
	}
	rc := NewResilientClient(fake, fastRetry(), 0)

	out, err := rc.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"findings": []}` {
		t.Errorf("unexpected output: %q", out)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 calls, got %d", fake.calls)
	}
}

func TestResilientClient_GivesUpAfterBoundedAttempts(t *testing.T) {
	wantErr := errors.New("503 service unavailable")
	fake := &fakeClient{errs: []error{wantErr, wantErr, wantErr, wantErr}}
	rc := NewResilientClient(fake, fastRetry(), 0)

	_, err := rc.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fake.calls != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", fake.calls)
	}
}

func TestResilientClient_Timeout(t *testing.T) {
	blocker := clientFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	rc := NewResilientClient(blocker, retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, 10*time.Millisecond)

	start := time.Now()
	_, err := rc.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not applied")
	}
}

type clientFunc func(ctx context.Context, prompt string) (string, error)

func (f clientFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
