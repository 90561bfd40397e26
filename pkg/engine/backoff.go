package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/piwi3910/shipper/pkg/types"
)

// BackoffDelay computes the pre-sleep delay for an attempt (1-based)
// under the retry config: the strategy's base curve capped at
// MaxDelay, scaled by a uniform jitter factor in [1-j, 1+j]. A nil rng
// disables jitter, which tests use to check the deterministic bound.
func BackoffDelay(cfg types.RetryConfig, attempt uint32, rng *rand.Rand) time.Duration {
	base := cfg.BaseDelay.Std()
	maxDelay := cfg.MaxDelay.Std()

	var delay time.Duration
	switch cfg.Strategy {
	case types.RetryImmediate:
		return 0
	case types.RetryLinear:
		delay = time.Duration(float64(base) * float64(attempt))
	case types.RetryConstant:
		delay = base
	default: // exponential
		pow := float64(attempt - 1)
		if pow > 16 {
			pow = 16
		}
		delay = time.Duration(float64(base) * math.Pow(2, pow))
	}

	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}

	if cfg.Jitter > 0 && rng != nil {
		factor := 1 - cfg.Jitter + rng.Float64()*2*cfg.Jitter
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
