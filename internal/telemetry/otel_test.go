package telemetry

import (
	"context"
	"net/http"
	"testing"

	"github.com/lmgate/lmgate/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw  string
		want otlpTarget
	}{
		{"", otlpTarget{host: DefaultEndpoint, insecure: true}},
		{"collector:4318", otlpTarget{host: "collector:4318", insecure: true}},
		{"https://otel.example.com/v1/traces", otlpTarget{host: "otel.example.com", path: "/v1/traces"}},
		{"http://localhost:4318", otlpTarget{host: "localhost:4318", insecure: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseEndpoint(tt.raw), tt.raw)
	}
	assert.Len(t, parseEndpoint("https://otel.example.com/custom").options(), 2)
	assert.Len(t, parseEndpoint("collector:4318").options(), 2)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(Config{ServiceName: "lmgate", Disabled: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, Enabled())

	rt := http.DefaultTransport
	assert.Equal(t, rt, WrapTransport(rt))
	h := http.NotFoundHandler()
	assert.NotNil(t, WrapHandler(h, "proxy"))
}

func TestAnnotateUsage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "proxy")

	model := "gpt-4"
	in := int64(10)
	AnnotateUsage(ctx, usage.Record{Provider: usage.ProviderOpenAI, Model: &model, InputTokens: &in, Status: 200, MaskedKey: "123456"})
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "openai", attrs["gen_ai.system"])
	assert.Equal(t, "gpt-4", attrs["gen_ai.response.model"])
	assert.Equal(t, int64(10), attrs["gen_ai.usage.input_tokens"])
	_, hasOutput := attrs["gen_ai.usage.output_tokens"]
	assert.False(t, hasOutput)
}

func TestAnnotateUsageWithoutSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		AnnotateUsage(context.Background(), usage.Record{})
	})
}
