package infra

import (
	"context"
	"fmt"
	"time"
)

const (
	connectAttempts = 5
	pingTimeout     = 5 * time.Second
)

// retryBackoff is the wait before the second attempt; it doubles after each failure.
var retryBackoff = 500 * time.Millisecond

// pingWithRetry waits for a backend that may still be starting alongside the API.
func pingWithRetry(ctx context.Context, name string, ping func(context.Context) error) error {
	wait := retryBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping %s: %w", name, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("ping %s after %d attempts: %w", name, connectAttempts, err)
}
