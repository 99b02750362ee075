package convert

import (
	"context"
	"fmt"
	"time"
)

// LinearBackoff waits Base multiplied by the attempt number before a retry.
type LinearBackoff struct {
	Base time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	return b.Base * time.Duration(attempt)
}

// TimerPauser implements Pauser with a timer.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
