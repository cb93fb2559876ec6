// Package observe watches proxied response bodies chunk by chunk and reports
// one usage capture per completed response, without touching the bytes that
// are forwarded to the client.
package observe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lmgate/lmgate/internal/sink"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// Meta is the per-request context the proxy knows about a response.
type Meta struct {
	// StreamID uniquely identifies one response stream. It keys the
	// accumulation state and must not be shared between responses.
	StreamID string

	ClientIP        string
	Method          string
	URI             string
	Host            string
	Status          int
	Authorization   string
	APIKey          string
	LMGateID        string
	ContentEncoding string
}

// Skipped reports whether responses with this status bypass observation.
// 401 and 403 come from the authorization layer and carry no usage.
func Skipped(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Observer owns the accumulation state of every in-flight response stream.
type Observer struct {
	sink    sink.Sink
	maxBody int
	now     func() time.Time
	mu      sync.Mutex
	streams map[string]*Accumulator
}

// Option configures an Observer.
type Option func(*Observer)

// WithMaxBodyBytes overrides the per-response capture cap.
func WithMaxBodyBytes(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithClock overrides the time source used for capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// NewObserver creates an observer reporting to s.
func NewObserver(s sink.Sink, opts ...Option) *Observer {
	if s == nil {
		s = sink.Discard{}
	}
	o := &Observer{
		sink:    s,
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
		streams: make(map[string]*Accumulator),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe feeds one chunk of a response into its stream's accumulator. On the
// final chunk the stream is finished: a capture is built and delivered, and
// the stream's state is dropped. Observe never fails and never panics out.
func (o *Observer) Observe(ctx context.Context, meta Meta, chunk []byte, final bool) {
	if o == nil || Skipped(meta.Status) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("observe: recovered from panic on stream %s: %v", meta.StreamID, r)
			o.Abort(meta.StreamID)
		}
	}()

	o.mu.Lock()
	acc, ok := o.streams[meta.StreamID]
	if !ok {
		acc = NewAccumulator(o.maxBody)
		o.streams[meta.StreamID] = acc
	}
	if final {
		delete(o.streams, meta.StreamID)
	}
	o.mu.Unlock()

	body, truncated := acc.Observe(chunk, final)
	if !final {
		return
	}

	if !truncated && len(body) > 0 && meta.ContentEncoding != "" {
		decoded, overflow, err := decodeBody(meta.ContentEncoding, body, o.maxBody)
		if err != nil {
			log.Debugf("observe: undecodable body on stream %s: %v", meta.StreamID, err)
		}
		body, truncated = decoded, overflow
	}

	o.sink.Deliver(ctx, &usage.Capture{
		Timestamp:     o.now().UTC(),
		ClientIP:      meta.ClientIP,
		Method:        meta.Method,
		URI:           meta.URI,
		Host:          meta.Host,
		Status:        meta.Status,
		Authorization: meta.Authorization,
		APIKey:        meta.APIKey,
		LMGateID:      meta.LMGateID,
		ResponseBody:  string(body),
		BodyTruncated: truncated,
	})
}

// Abort discards the state of a stream that will never see its final chunk.
// No capture is reported for it.
func (o *Observer) Abort(streamID string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	delete(o.streams, streamID)
	o.mu.Unlock()
}

// Active reports the number of streams currently accumulating.
func (o *Observer) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}
