// ABOUTME: Fixed-delay reconnect policy shared by the primary and GSCore links
// ABOUTME: Counts attempts without bound and waits the configured delay between them

package session

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultReconnectDelay is the pause between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

// Reconnector implements a fixed-delay retry policy. Retries are unbounded.
type Reconnector struct {
	Delay   time.Duration
	retries atomic.Int64
}

// NewReconnector returns a policy that waits delay between attempts.
func NewReconnector(delay time.Duration) *Reconnector {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Reconnector{Delay: delay}
}

// Wait records a failed attempt and sleeps for the delay. It returns
// ctx.Err() if the context ends first.
func (r *Reconnector) Wait(ctx context.Context) error {
	r.retries.Add(1)

	timer := time.NewTimer(r.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retries returns the number of waits since creation.
func (r *Reconnector) Retries() int64 {
	return r.retries.Load()
}
