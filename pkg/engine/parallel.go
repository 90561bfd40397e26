package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/shipper/pkg/plan"
	"github.com/piwi3910/shipper/pkg/types"
)

// runParallel executes the plan wave by wave. Waves run strictly in
// order; packages within a wave run concurrently up to the configured
// fan-out. A failure in a wave lets already-launched siblings finish
// but prevents subsequent waves from starting.
func (e *Engine) runParallel(ctx context.Context, env *runEnv) ([]types.PackageReceipt, error) {
	fanout := env.opts.Parallel.MaxConcurrent
	if fanout <= 0 {
		fanout = 4
	}
	timeout := env.opts.Parallel.PerPackageTimeout.Std()

	var (
		receiptsMu sync.Mutex
		receipts   []types.PackageReceipt
		firstErr   error
	)

	for _, wave := range plan.Waves(env.ws.Plan) {
		e.deps.Reporter.Info(fmt.Sprintf("wave %d: %d package(s)", wave.Level, len(wave.Packages)))

		// No errgroup context: a failing package must not cancel its
		// in-wave siblings, only gate the next wave.
		var g errgroup.Group
		g.SetLimit(fanout)

		for _, pkg := range wave.Packages {
			g.Go(func() error {
				receipt, err := e.publishOne(ctx, env, pkg, timeout)
				receiptsMu.Lock()
				receipts = append(receipts, receipt)
				receiptsMu.Unlock()
				return err
			})
		}

		if err := g.Wait(); err != nil {
			firstErr = err
			break
		}

		// Wave barrier: every member must be terminal before the next
		// wave starts.
		if failed := e.waveFailed(env, wave); failed != "" {
			firstErr = types.NewPermanentError("wave aborted: "+failed+" failed", nil).
				WithCode(types.ErrCodeUploadFailed)
			break
		}

		if err := ctx.Err(); err != nil {
			firstErr = types.NewCancelledError("publish cancelled between waves", err)
			break
		}
	}

	return receipts, firstErr
}

// waveFailed returns the key of a failed package in the wave, or "".
func (e *Engine) waveFailed(env *runEnv, wave types.Wave) string {
	for _, pkg := range wave.Packages {
		if e.snapshot(env.st, pkg.Key()).Status == types.StatusFailed {
			return pkg.Key()
		}
	}
	return ""
}
