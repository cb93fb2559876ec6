package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lmgate/lmgate/internal/telemetry"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
)

// DefaultCollectorTimeout bounds a single POST to the collector.
const DefaultCollectorTimeout = 5 * time.Second

// Collector posts each capture to a remote stats collector. Posts run in
// the background with a bounded timeout; failures are dropped after the
// single attempt.
type Collector struct {
	url     string
	client  *http.Client
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewCollector creates a collector sink posting to url. A nil client gets a
// default one whose transport is traced.
func NewCollector(url string, timeout time.Duration, client *http.Client) *Collector {
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	if client == nil {
		client = &http.Client{Transport: telemetry.WrapTransport(http.DefaultTransport)}
	}
	return &Collector{url: url, client: client, timeout: timeout}
}

// Deliver implements Sink. It returns as soon as the POST is started.
func (c *Collector) Deliver(ctx context.Context, capture *usage.Capture) {
	if c == nil || capture == nil {
		return
	}
	payload, err := json.Marshal(capture)
	if err != nil {
		log.Debugf("collector: encode capture: %v", err)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Keep trace values but not the request's cancellation.
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.post(ctx, payload); err != nil {
			log.Debugf("collector: stats post dropped: %v", err)
		}
	}()
}

func (c *Collector) post(parent context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight posts until ctx is done.
func (c *Collector) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
