// Package retry wraps fallible operations with bounded exponential backoff.
// It knows nothing about uploads; classification of what is worth retrying
// lives in pkg/uperr.
package retry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycast/relaycast/pkg/debug"
	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/uperr"
	"github.com/relaycast/relaycast/pkg/utils"
)

var retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "relaycast",
	Subsystem: "retry",
	Name:      "reattempts_total",
	Help:      "Operations re-attempted after a retryable failure",
})

func init() {
	debug.Registry().MustRegister(retriesTotal)
}

// DefaultConfig matches the 1s/2s/4s progression for a 500ms base delay.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// Config bounds the retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay seeds the backoff: the wait before attempt n (n >= 2) is
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration

	// Jitter, if > 0, randomizes each delay by the given fraction to avoid
	// synchronized retries across sessions.
	Jitter float64
}

// Do runs op, retrying retryable failures up to cfg.MaxAttempts with
// exponential backoff. Non-retryable failures abort immediately without
// consuming remaining attempts. Backoff sleeps are interrupted by ctx so a
// caller-initiated cancel takes effect promptly.
//
// After the final failed attempt the last error is returned tagged as
// exhausted (see uperr.IsExhausted).
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := cfg.BaseDelay << (attempt - 1)
			if cfg.Jitter > 0 {
				delay = utils.Jitter(delay, cfg.Jitter)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			retriesTotal.Inc()
			logger.Ctx(ctx).Debug().
				Int("attempt", attempt).
				Dur("waited", delay).
				Msg("retry: re-attempting")
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !uperr.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return uperr.MarkExhausted(lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
