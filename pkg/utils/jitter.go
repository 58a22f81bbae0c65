package utils

import (
	"math/rand/v2"
	"time"
)

// Jitter randomizes a duration by up to ±fraction of its base value so that
// many sessions retrying or sweeping at once do not synchronize.
//
// Example: Jitter(time.Minute, 0.1) returns 54s-66s.
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	if fraction > 1 {
		fraction = 1
	}
	spread := float64(base) * fraction
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

// JitteredTicker returns a channel that ticks at independently jittered
// intervals. The returned stop function releases the goroutine.
func JitteredTicker(base time.Duration, fraction float64) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 1)
	done := make(chan struct{})

	go func() {
		for {
			timer := time.NewTimer(Jitter(base, fraction))
			select {
			case t := <-timer.C:
				select {
				case ch <- t:
				default:
					// Drop if receiver is slow
				}
			case <-done:
				timer.Stop()
				close(ch)
				return
			}
		}
	}()

	return ch, func() { close(done) }
}
