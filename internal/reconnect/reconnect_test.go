package reconnect_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/quietpixel/sockclient/internal/reconnect"
)

func TestWaitPermitsFirstAttemptImmediately(t *testing.T) {
	s := reconnect.New(rate.NewLimiter(rate.Every(time.Hour), 1))

	start := time.Now()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("first attempt took %v, want near-immediate", elapsed)
	}
}

func TestWaitThrottlesSubsequentAttempts(t *testing.T) {
	s := reconnect.New(rate.NewLimiter(rate.Every(30*time.Millisecond), 1))

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("second attempt took %v, want it throttled by the limiter interval", elapsed)
	}
}

func TestMaxAttemptsExceeded(t *testing.T) {
	s := reconnect.New(rate.NewLimiter(rate.Every(time.Millisecond), 1), reconnect.WithMaxAttempts(1))

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := s.Wait(context.Background()); err != reconnect.ErrMaxAttemptsExceeded {
		t.Fatalf("second Wait error = %v, want ErrMaxAttemptsExceeded", err)
	}
}

func TestResetClearsAttemptCount(t *testing.T) {
	s := reconnect.New(rate.NewLimiter(rate.Every(time.Millisecond), 1), reconnect.WithMaxAttempts(1))

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	s.Reset()
	if n := s.Attempts(); n != 0 {
		t.Fatalf("Attempts() = %d after Reset, want 0", n)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Reset: %v", err)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	s := reconnect.New(rate.NewLimiter(rate.Every(time.Hour), 1))
	// Consume the initial burst token so the next reservation has a
	// long delay to wait out.
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Wait(ctx)
	if err != context.Canceled {
		t.Fatalf("Wait with cancelled context = %v, want context.Canceled", err)
	}
}
