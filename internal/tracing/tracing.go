// Package tracing is a thin wrapper around OpenTelemetry so the service code
// starts spans and records counters without importing the SDK directly. Init
// installs both the tracer and the meter provider.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pesio-ai/be-qms-documents"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider

	meterOnce     sync.Once
	meterErr      error
	meterProvider *sdkmetric.MeterProvider
)

// Init installs global tracer and meter providers exporting to stdout, or to
// outputFile when set. Only the first call has an effect.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w = f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return err
	}
	if err := InitWithExporter(serviceName, serviceVersion, exporter); err != nil {
		return err
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return err
	}
	return InitMetricsWithReader(serviceName, serviceVersion, sdkmetric.NewPeriodicReader(metricExporter))
}

// InitWithExporter installs a global tracer provider backed by exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	providerOnce.Do(func() {
		res, err := newResource(serviceName, serviceVersion)
		if err != nil {
			providerErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return providerErr
}

// InitMetricsWithReader installs a global meter provider collected by reader.
// Counters created before the call start recording once it returns.
func InitMetricsWithReader(serviceName, serviceVersion string, reader sdkmetric.Reader) error {
	meterOnce.Do(func() {
		res, err := newResource(serviceName, serviceVersion)
		if err != nil {
			meterErr = err
			return
		}
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(meterProvider)
	})
	return meterErr
}

func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
}

// Shutdown flushes pending spans and metrics.
func Shutdown(ctx context.Context) error {
	var errs []error
	if provider != nil {
		errs = append(errs, provider.Shutdown(ctx))
	}
	if meterProvider != nil {
		errs = append(errs, meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, *Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(kv...),
	)
	return ctx, &Span{span: span}
}

// SetAttribute records a string attribute.
func (s *Span) SetAttribute(key, value string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// Counter is a named int64 counter from the global meter provider. Without a
// configured provider it is a no-op.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a counter. Instrument creation errors fall back to a
// no-op counter.
func NewCounter(name, description string) *Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return &Counter{}
	}
	return &Counter{counter: c}
}

// Add increments the counter with string attributes given as key/value pairs.
func (c *Counter) Add(ctx context.Context, n int64, kv ...string) {
	if c == nil || c.counter == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.counter.Add(ctx, n, metric.WithAttributes(attrs...))
}
