package observe

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Body wraps a response body so every chunk read through it is observed
// before being handed on unchanged.
type Body struct {
	rc       io.ReadCloser
	observer *Observer
	meta     Meta
	ctx      context.Context
	finished bool
}

// NewBody wraps rc. A stream id is generated when meta has none.
func NewBody(ctx context.Context, rc io.ReadCloser, o *Observer, meta Meta) *Body {
	if meta.StreamID == "" {
		meta.StreamID = uuid.NewString()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Body{rc: rc, observer: o, meta: meta, ctx: ctx}
}

// Read forwards the underlying read. The bytes in p are only inspected.
func (b *Body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.finished {
		return n, err
	}
	switch {
	case err == io.EOF:
		b.finished = true
		b.observer.Observe(b.ctx, b.meta, p[:n], true)
	case err != nil:
		b.finished = true
		b.observer.Abort(b.meta.StreamID)
	case n > 0:
		b.observer.Observe(b.ctx, b.meta, p[:n], false)
	}
	return n, err
}

// Close closes the underlying body. Closing before the end of the stream is
// an abort and reports nothing.
func (b *Body) Close() error {
	if !b.finished {
		b.finished = true
		b.observer.Abort(b.meta.StreamID)
	}
	return b.rc.Close()
}

// StreamID returns the id keying this body's accumulation state.
func (b *Body) StreamID() string { return b.meta.StreamID }
