// Package util provides small helpers shared by the engine and the host adapters.
package util

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned by Poll when the condition never held.
var ErrPollTimeout = errors.New("poll attempts exhausted")

// Poll evaluates cond up to maxAttempts times, sleeping interval between
// attempts. The first evaluation happens immediately.
func Poll(ctx context.Context, cond func() bool, maxAttempts int, interval time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		if cond() {
			return nil
		}
		if attempt >= maxAttempts {
			return ErrPollTimeout
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Dedupe returns ids with duplicates removed, keeping first occurrence order.
func Dedupe[T comparable](ids []T) []T {
	seen := make(map[T]struct{}, len(ids))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
