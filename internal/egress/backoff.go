package egress

import (
	"math/rand"
	"time"
)

// retryDelay computes the pause before the next attempt: base doubled per
// completed attempt, capped at ceiling, plus uniform jitter of up to
// jitterFraction of the capped delay. Deterministic given rnd.
func retryDelay(attempt int, base, ceiling time.Duration, jitterFraction float64, rnd *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling < base {
		ceiling = base
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := ceiling
	if attempt <= 32 {
		if shifted := base << uint(attempt-1); shifted > 0 && shifted < ceiling {
			delay = shifted
		}
	}
	if jitterFraction > 0 {
		if jitterFraction > 1 {
			jitterFraction = 1
		}
		if span := int64(float64(delay) * jitterFraction); span > 0 {
			delay += time.Duration(rnd.Int63n(span + 1))
		}
	}
	return delay
}
