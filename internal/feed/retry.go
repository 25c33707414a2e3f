package feed

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxRetryDelay = 10 * time.Second

// backoff retries chain reads within a single tick. The total wait never
// exceeds budget, so a slow RPC cannot push one tick into the next.
type backoff struct {
	retries int
	base    time.Duration
	budget  time.Duration
}

func newBackoff(retries int, base, pollInterval time.Duration) backoff {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return backoff{retries: retries, base: base, budget: pollInterval / 2}
}

// delay returns the wait before retry attempt n (0-based): exponential,
// capped, with the upper half jittered.
func (b backoff) delay(n int) time.Duration {
	d := b.base
	for i := 0; i < n && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	half := d / 2
	return half + rand.N(half+1)
}

func (b backoff) do(ctx context.Context, fn func(context.Context) error) error {
	var waited time.Duration
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= b.retries || ctx.Err() != nil {
			return err
		}

		wait := b.delay(attempt)
		if b.budget > 0 && waited+wait > b.budget {
			return err
		}
		waited += wait

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
