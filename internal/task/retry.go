package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy defines retry behavior for a collaborator call.
type Policy struct {
	MaxAttempts       int           // Total attempts including the first one
	InitialDelay      time.Duration // Delay before the second attempt
	MaxDelay          time.Duration // Cap for any single delay
	BackoffMultiplier float64       // Growth factor between delays
}

// PublishPolicy is used for the publishing proxy.
func PublishPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialDelay
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("MaxAttempts must be at least 1")
	}
	if p.InitialDelay < 0 {
		return errors.New("InitialDelay must not be negative")
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	if p.BackoffMultiplier < 1 {
		return errors.New("BackoffMultiplier must be at least 1")
	}
	return nil
}

// Retry calls fn until it succeeds or the attempts are exhausted. It
// returns the number of attempts made. Exhaustion wraps the last error.
func (p Policy) Retry(ctx context.Context, fn func(attempt int) error) (int, error) {
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if last = fn(attempt); last == nil {
			return attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-t.C:
		}
	}
	return p.MaxAttempts, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, last)
}
