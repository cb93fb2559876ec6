// Package sink delivers observed usage out of band. Delivery is best-effort:
// a sink never returns an error to the proxy path and never blocks on a
// remote peer. A lost record only degrades observability.
package sink

import (
	"context"

	"github.com/lmgate/lmgate/internal/usage"
)

// Sink receives the capture of each finished response.
type Sink interface {
	Deliver(ctx context.Context, c *usage.Capture)
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, c *usage.Capture)

// Deliver implements Sink.
func (f Func) Deliver(ctx context.Context, c *usage.Capture) { f(ctx, c) }

// Discard drops every capture.
type Discard struct{}

// Deliver implements Sink.
func (Discard) Deliver(context.Context, *usage.Capture) {}
