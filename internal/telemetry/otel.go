package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmgate/lmgate/internal/usage"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultEndpoint is the OTLP/HTTP collector used when none is configured.
const DefaultEndpoint = "127.0.0.1:4318"

// Config selects whether and where traces are exported.
type Config struct {
	ServiceName string
	Disabled    bool
	// Endpoint is an OTLP/HTTP collector given as host:port or URL. Empty
	// falls back to OTEL_EXPORTER_OTLP_ENDPOINT, then DefaultEndpoint.
	Endpoint string
	// SampleRatio samples root spans; values outside (0, 1) sample all.
	SampleRatio float64
}

var (
	enabled atomic.Bool

	initOnce     sync.Once
	initErr      error
	shutdownFunc = func(context.Context) error { return nil }
)

// Init installs the global tracer provider once. OTEL_SDK_DISABLED=true
// disables tracing like cfg.Disabled does.
func Init(cfg Config) (func(context.Context) error, error) {
	initOnce.Do(func() {
		if cfg.Disabled || strings.EqualFold(strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")), "true") {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "lmgate"
		}

		r, err := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		)
		if err != nil {
			initErr = fmt.Errorf("telemetry resource: %w", err)
			return
		}

		endpoint := strings.TrimSpace(cfg.Endpoint)
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		exporter, err := otlptracehttp.New(context.Background(), parseEndpoint(endpoint).options()...)
		if err != nil {
			initErr = fmt.Errorf("telemetry exporter: %w", err)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(r),
			sdktrace.WithSampler(sampler(cfg.SampleRatio)),
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdownFunc = tp.Shutdown
		enabled.Store(true)
	})
	return shutdownFunc, initErr
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

// otlpTarget is a parsed collector address.
type otlpTarget struct {
	host     string
	path     string
	insecure bool
}

func (t otlpTarget) options() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.host)}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if t.path != "" && t.path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(t.path))
	}
	return opts
}

// parseEndpoint accepts host:port (plain HTTP) or an http(s) URL whose path
// overrides the default /v1/traces.
func parseEndpoint(raw string) otlpTarget {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return otlpTarget{host: DefaultEndpoint, insecure: true}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return otlpTarget{host: raw, insecure: true}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		log.Warnf("telemetry: bad OTLP endpoint %q, using it as host:port", raw)
		return otlpTarget{host: raw, insecure: true}
	}
	return otlpTarget{host: u.Host, path: u.EscapedPath(), insecure: u.Scheme == "http"}
}

// Enabled reports whether Init installed a tracer provider. Until then
// handlers and transports are left unwrapped.
func Enabled() bool {
	return enabled.Load()
}

// GinMiddleware traces API requests under serviceName.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	if !Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(serviceName)
}

// WrapTransport traces outbound requests made through rt.
func WrapTransport(rt http.RoundTripper) http.RoundTripper {
	if !Enabled() {
		return rt
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return otelhttp.NewTransport(rt)
}

// WrapHandler traces inbound requests served by h.
func WrapHandler(h http.Handler, operation string) http.Handler {
	if !Enabled() {
		return h
	}
	return otelhttp.NewHandler(h, operation)
}

// AnnotateUsage records a usage record on the span carried by ctx.
func AnnotateUsage(ctx context.Context, record usage.Record) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.system", string(record.Provider)),
		attribute.String("lmgate.endpoint", record.Endpoint),
		attribute.Int("http.response.status_code", record.Status),
		attribute.Bool("lmgate.body_truncated", record.BodyTruncated),
	}
	if record.Model != nil {
		attrs = append(attrs, attribute.String("gen_ai.response.model", *record.Model))
	}
	if record.InputTokens != nil {
		attrs = append(attrs, attribute.Int64("gen_ai.usage.input_tokens", *record.InputTokens))
	}
	if record.OutputTokens != nil {
		attrs = append(attrs, attribute.Int64("gen_ai.usage.output_tokens", *record.OutputTokens))
	}
	if record.MaskedKey != "" {
		attrs = append(attrs, attribute.String("user.id", record.MaskedKey))
	}
	span.SetAttributes(attrs...)
}
