package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Clock: clock}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(context.Background(), cfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
	}()

	for attempts < 3 {
		time.Sleep(time.Millisecond)
		clock.Advance(10 * time.Millisecond)
	}

	if err := <-done; err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonTransientError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("syntax error near SELECT")
	})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("non-transient error should not be retried, got %d attempts", attempts)
	}
}
