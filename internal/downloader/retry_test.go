package downloader

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "done", nil
	}, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got != "done" || attempts != 2 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	attempts := 0
	last := errors.New("third")
	_, err := Retry(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts == 3 {
			return 0, last
		}
		return 0, errors.New("earlier")
	}, nil)
	if !errors.Is(err, last) {
		t.Errorf("error = %v, want %v", err, last)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	fatal := errors.New("fatal")
	_, err := Retry(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })
	if !errors.Is(err, fatal) || attempts != 1 {
		t.Errorf("err = %v attempts = %d, want fatal after 1", err, attempts)
	}
}

func TestRetry_ContextCanceledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialDelay = time.Hour

	_, err := Retry(ctx, cfg, func() (int, error) {
		cancel()
		return 0, errors.New("transient")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	Retry(context.Background(), RetryConfig{}, func() (int, error) {
		attempts++
		return 0, errors.New("x")
	}, nil)
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
