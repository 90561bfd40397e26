package registry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/piwi3910/shipper/pkg/types"
)

// Sleeper injects the delay primitive so tests can run the poll loop
// without waiting.
type Sleeper func(ctx context.Context, d time.Duration) error

// CtxSleep sleeps for d or until the context is cancelled.
func CtxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitVisible polls until name@version is visible via the configured
// method, the total wait budget is exhausted, or the context is
// cancelled. Probe errors count as "not visible" so transient registry
// trouble is absorbed by the backoff. Every probe appends a
// ReadinessEvidence record.
func (c *Client) AwaitVisible(
	ctx context.Context,
	name, version string,
	cfg types.ReadinessConfig,
	rng *rand.Rand,
	sleep Sleeper,
) (bool, []types.ReadinessEvidence, error) {
	if sleep == nil {
		sleep = CtxSleep
	}
	var evidence []types.ReadinessEvidence

	if !cfg.Enabled {
		visible, err := c.VersionExists(ctx, name, version)
		if err != nil {
			visible = false
		}
		evidence = append(evidence, types.ReadinessEvidence{
			Attempt:   1,
			Visible:   visible,
			Timestamp: time.Now().UTC(),
		})
		return visible, evidence, nil
	}

	start := time.Now()

	if d := cfg.InitialDelay.Std(); d > 0 {
		if err := sleep(ctx, d); err != nil {
			return false, evidence, types.NewCancelledError("readiness wait cancelled", err)
		}
	}

	var attempt uint32
	delayBefore := time.Duration(0)
	for {
		attempt++

		visible := c.probe(ctx, name, version, cfg)
		evidence = append(evidence, types.ReadinessEvidence{
			Attempt:     attempt,
			Visible:     visible,
			Timestamp:   time.Now().UTC(),
			DelayBefore: types.Duration(delayBefore),
		})

		if visible {
			return true, evidence, nil
		}
		if err := ctx.Err(); err != nil {
			return false, evidence, types.NewCancelledError("readiness wait cancelled", err)
		}
		if time.Since(start) >= cfg.MaxTotalWait.Std() {
			return false, evidence, nil
		}

		delayBefore = PollDelay(cfg.PollInterval.Std(), cfg.MaxDelay.Std(), attempt, cfg.JitterFactor, rng)
		if err := sleep(ctx, delayBefore); err != nil {
			return false, evidence, types.NewCancelledError("readiness wait cancelled", err)
		}
	}
}

// probe checks visibility via the configured method. Probe errors are
// treated as not visible.
func (c *Client) probe(ctx context.Context, name, version string, cfg types.ReadinessConfig) bool {
	api := func() bool {
		v, err := c.VersionExists(ctx, name, version)
		return err == nil && v
	}
	index := func() bool {
		v, err := c.IndexLookup(ctx, name, version)
		return err == nil && v
	}

	switch cfg.Method {
	case types.ReadinessIndex:
		return index()
	case types.ReadinessBoth:
		if cfg.PreferIndex {
			return index() || api()
		}
		return api() || index()
	default:
		return api()
	}
}

// PollDelay computes the exponential poll delay for an attempt:
// min(maxDelay, base * 2^(attempt-1)) scaled by a uniform jitter factor
// in [1-jitter, 1+jitter]. A nil rng disables jitter.
func PollDelay(base, maxDelay time.Duration, attempt uint32, jitter float64, rng *rand.Rand) time.Duration {
	pow := float64(attempt - 1)
	if pow > 16 {
		pow = 16
	}
	delay := time.Duration(float64(base) * math.Pow(2, pow))
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}
	if jitter > 0 && rng != nil {
		factor := 1 - jitter + rng.Float64()*2*jitter
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
