package observe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/lmgate/lmgate/internal/sink"
	"github.com/lmgate/lmgate/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestBodyForwardsBytesUnchanged(t *testing.T) {
	payload := []byte("data: {\"usageMetadata\":{\"promptTokenCount\":3}}\ndata: [DONE]\n")
	readers := map[string]func(io.Reader) io.Reader{
		"plain":    func(r io.Reader) io.Reader { return r },
		"one byte": iotest.OneByteReader,
		"half":     iotest.HalfReader,
		"data err": iotest.DataErrReader,
	}
	for name, wrap := range readers {
		t.Run(name, func(t *testing.T) {
			rec := &recordingSink{}
			o := NewObserver(rec)
			src := &closeTracker{Reader: wrap(bytes.NewReader(payload))}
			body := NewBody(context.Background(), src, o, Meta{Status: 200, Host: "aiplatform.googleapis.com"})

			forwarded, err := io.ReadAll(body)
			require.NoError(t, err)
			require.NoError(t, body.Close())

			assert.Equal(t, payload, forwarded)
			assert.True(t, src.closed)
			captures := rec.all()
			require.Len(t, captures, 1)
			assert.Equal(t, string(payload), captures[0].ResponseBody)
			assert.Equal(t, 0, o.Active())
		})
	}
}

func TestBodyForwardsWhenTruncated(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100)
	rec := &recordingSink{}
	o := NewObserver(rec, WithMaxBodyBytes(64))
	body := NewBody(context.Background(), io.NopCloser(iotest.HalfReader(bytes.NewReader(payload))), o, Meta{Status: 200})

	forwarded, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, forwarded)

	captures := rec.all()
	require.Len(t, captures, 1)
	assert.True(t, captures[0].BodyTruncated)
	assert.Empty(t, captures[0].ResponseBody)
}

func TestBodyCloseBeforeEOFAborts(t *testing.T) {
	rec := &recordingSink{}
	o := NewObserver(rec)
	body := NewBody(context.Background(), io.NopCloser(bytes.NewReader([]byte("partial stream"))), o, Meta{Status: 200})

	buf := make([]byte, 4)
	_, err := body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Active())

	require.NoError(t, body.Close())
	assert.Equal(t, 0, o.Active())
	assert.Empty(t, rec.all())
}

func TestBodyReadErrorAborts(t *testing.T) {
	rec := &recordingSink{}
	o := NewObserver(rec)
	failing := io.MultiReader(bytes.NewReader([]byte("abc")), iotest.ErrReader(errors.New("connection reset")))
	body := NewBody(context.Background(), io.NopCloser(failing), o, Meta{Status: 200})

	forwarded, err := io.ReadAll(body)
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, []byte("abc"), forwarded)
	assert.Equal(t, 0, o.Active())
	assert.Empty(t, rec.all())
}

func TestBodyGeneratesDistinctStreamIDs(t *testing.T) {
	o := NewObserver(nil)
	a := NewBody(context.Background(), io.NopCloser(bytes.NewReader(nil)), o, Meta{LMGateID: "1"})
	b := NewBody(context.Background(), io.NopCloser(bytes.NewReader(nil)), o, Meta{LMGateID: "1"})
	assert.NotEmpty(t, a.StreamID())
	assert.NotEqual(t, a.StreamID(), b.StreamID())
}

type stalledWriter struct{ release chan struct{} }

func (w stalledWriter) WriteRecord(ctx context.Context, _ usage.Record) error {
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBodyFinalReadDoesNotWaitOnSlowStore(t *testing.T) {
	store := stalledWriter{release: make(chan struct{})}
	defer close(store.release)
	async := sink.NewAsync(store, time.Minute)
	o := NewObserver(sink.NewAccounting(async))

	src := io.NopCloser(iotest.DataErrReader(bytes.NewReader([]byte("final-bytes"))))
	body := NewBody(context.Background(), src, o, Meta{Status: 200, Host: "api.openai.com"})

	done := make(chan struct{})
	var (
		n   int
		err error
		buf = make([]byte, 64)
	)
	go func() {
		defer close(done)
		n, err = body.Read(buf)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("final read blocked on the record store")
	}
	assert.Equal(t, "final-bytes", string(buf[:n]))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, o.Active())
}
