package router

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// Call names one capability invocation.
type Call struct {
	Capability string
	Args       operation.Args
}

// DispatchAll runs independent calls concurrently, at most MaxParallel at a
// time, so that their backoff delays overlap instead of adding up. Results
// are returned in call order. A failing call does not cancel the others.
func (r *Router) DispatchAll(ctx context.Context, calls []Call) []result.Envelope {
	out := make([]result.Envelope, len(calls))

	var g errgroup.Group
	g.SetLimit(r.maxParallel)

	for i, call := range calls {
		g.Go(func() error {
			out[i] = r.Dispatch(ctx, call.Capability, call.Args)
			return nil
		})
	}
	_ = g.Wait()

	return out
}
