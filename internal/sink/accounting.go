package sink

import (
	"context"
	"fmt"

	"github.com/lmgate/lmgate/internal/telemetry"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// RecordWriter persists or aggregates usage records.
type RecordWriter interface {
	WriteRecord(ctx context.Context, record usage.Record) error
}

// Accounting turns captures into usage records and hands each record to its
// writers. A failing writer is logged and skipped; the others still run.
type Accounting struct {
	writers []RecordWriter
}

// NewAccounting creates an accounting sink. Nil writers are ignored.
func NewAccounting(writers ...RecordWriter) *Accounting {
	a := &Accounting{}
	for _, w := range writers {
		if w != nil {
			a.writers = append(a.writers, w)
		}
	}
	return a
}

// Deliver implements Sink.
func (a *Accounting) Deliver(ctx context.Context, c *usage.Capture) {
	if a == nil || c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Local writes outlive the request that produced them.
	ctx = context.WithoutCancel(ctx)
	record := usage.BuildRecord(c)
	telemetry.AnnotateUsage(ctx, record)
	for _, w := range a.writers {
		a.write(ctx, w, record)
	}
}

func (a *Accounting) write(ctx context.Context, w RecordWriter, record usage.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("usage record writer %T panicked: %v", w, r)
		}
	}()
	if err := w.WriteRecord(ctx, record); err != nil {
		log.WithFields(log.Fields{
			"writer":    fmt.Sprintf("%T", w),
			"lmgate_id": record.LMGateID,
			"provider":  record.Provider,
		}).Debugf("usage record dropped: %v", err)
	}
}
