package tracker

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// retryableStatus reports whether a response status is worth retrying:
// throttling and transient server failures only. 4xx other than 429 is a
// caller bug and retrying would just repeat it.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoffDelay computes the wait before attempt n (0-based): exponential
// from base with up to 50% jitter, capped. A Retry-After header, when the
// server sent one, overrides the computed delay.
func backoffDelay(attempt int, base, maxDelay time.Duration, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			d := time.Duration(secs) * time.Second
			if d > maxDelay {
				d = maxDelay
			}
			return d
		}
	}
	d := base << uint(attempt)
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
