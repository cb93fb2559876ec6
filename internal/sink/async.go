package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// DefaultAsyncTimeout bounds one background record write.
const DefaultAsyncTimeout = 5 * time.Second

// DefaultAsyncInFlight caps concurrent background writes. Records arriving
// while the cap is reached are dropped.
const DefaultAsyncInFlight = 64

// Async runs a RecordWriter in the background so a slow or remote store never
// holds up the response that produced the record. Each write gets its own
// deadline; failures are logged and dropped.
type Async struct {
	w       RecordWriter
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewAsync wraps w. A non-positive timeout selects DefaultAsyncTimeout.
func NewAsync(w RecordWriter, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	return &Async{w: w, timeout: timeout, slots: make(chan struct{}, DefaultAsyncInFlight)}
}

// WriteRecord implements RecordWriter. It returns once the write is started,
// or with an error when too many writes are already in flight.
func (a *Async) WriteRecord(ctx context.Context, record usage.Record) error {
	select {
	case a.slots <- struct{}{}:
	default:
		return fmt.Errorf("%T: %d writes in flight", a.w, cap(a.slots))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()
		defer func() {
			if r := recover(); r != nil {
				log.Debugf("usage record writer %T panicked: %v", a.w, r)
			}
		}()

		writeCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.w.WriteRecord(writeCtx, record); err != nil {
			log.WithFields(log.Fields{
				"writer":    fmt.Sprintf("%T", a.w),
				"lmgate_id": record.LMGateID,
			}).Debugf("usage record dropped: %v", err)
		}
	}()
	return nil
}

// Close waits for in-flight writes until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
