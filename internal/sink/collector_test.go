package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lmgate/lmgate/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorPostsCapture(t *testing.T) {
	var (
		mu          sync.Mutex
		contentType string
		received    usage.Capture
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		contentType = r.Header.Get("Content-Type")
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCollector(srv.URL, time.Second, srv.Client())
	c.Deliver(context.Background(), openAICapture())
	require.NoError(t, c.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "42", received.LMGateID)
	assert.Equal(t, "api.openai.com", received.Host)
	assert.Equal(t, 200, received.Status)
	assert.Contains(t, received.ResponseBody, "prompt_tokens")
}

func TestCollectorPayloadFieldNames(t *testing.T) {
	raw, err := json.Marshal(openAICapture())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, name := range []string{
		"timestamp", "client_ip", "method", "uri", "host", "status",
		"auth_key_header", "auth_x_api_key", "lmgate_internal_id",
		"response_body", "body_truncated",
	} {
		assert.Contains(t, fields, name)
	}
}

func TestCollectorFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCollector(srv.URL, time.Second, srv.Client())
	assert.NotPanics(t, func() {
		c.Deliver(context.Background(), openAICapture())
	})
	assert.NoError(t, c.Close(context.Background()))

	unreachable := NewCollector("http://127.0.0.1:1/stats", 200*time.Millisecond, nil)
	unreachable.Deliver(context.Background(), openAICapture())
	assert.NoError(t, unreachable.Close(context.Background()))
}

func TestCollectorDeliverDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := NewCollector(srv.URL, 300*time.Millisecond, srv.Client())
	start := time.Now()
	c.Deliver(context.Background(), openAICapture())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// The post gives up at its own timeout; Close observes that.
	require.NoError(t, c.Close(context.Background()))
}

func TestCollectorCloseRespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewCollector(srv.URL, 5*time.Second, srv.Client())
	c.Deliver(context.Background(), openAICapture())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)
}

func TestCollectorDeliverOutlivesCanceledRequest(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCollector(srv.URL, time.Second, srv.Client())
	c.Deliver(ctx, openAICapture())
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, hit, 1)
}
