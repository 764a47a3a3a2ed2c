package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visiongrade/gradecast/pkg/svcerr"
)

func fastConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	runner := NewRunner(fastConfig())

	calls := 0
	err := runner.Do(context.Background(), "noop", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	runner := NewRunner(fastConfig())

	calls := 0
	err := runner.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustion(t *testing.T) {
	runner := NewRunner(fastConfig())

	cause := errors.New("still broken")
	calls := 0
	err := runner.Do(context.Background(), "doomed", func(ctx context.Context) error {
		calls++
		return cause
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	// Initial try plus three retries.
	if calls != 4 {
		t.Errorf("expected 4 executions, got %d", calls)
	}
	if !svcerr.IsCode(err, svcerr.CodeRetryExhausted) {
		t.Errorf("expected RETRY_EXHAUSTED, got %s", svcerr.CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected exhaustion error to wrap the last cause")
	}

	var se *svcerr.Error
	if !errors.As(err, &se) {
		t.Fatal("expected a service error")
	}
	if se.Details["operation"] != "doomed" {
		t.Errorf("expected operation name in details, got %v", se.Details["operation"])
	}
}

func TestDoContextCancellation(t *testing.T) {
	runner := NewRunner(Config{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := runner.Do(ctx, "slow", func(ctx context.Context) error {
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestCalculateDelayBackoff(t *testing.T) {
	runner := NewRunner(Config{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond}, // capped
		{4, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := runner.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}
