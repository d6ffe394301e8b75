// Package otel wires the OpenTelemetry trace, metric and log providers for both binaries.
package otel

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

const DefaultServiceName = "pottery"

type Options struct {
	// Reported as service.name, DefaultServiceName when empty
	ServiceName string
	// Where the stdout exporters write when OTLP is off, os.Stdout when nil
	Writer  io.Writer
	UseOTLP bool
	// Fraction of root spans kept. Zero or anything above one keeps everything.
	SampleRatio float64
}

func (o Options) resource() *resource.Resource {
	attrs := []attribute.KeyValue{attribute.String("service.name", o.ServiceName)}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		attrs = append(attrs, attribute.String("service.version", info.Main.Version))
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, attribute.String("host.name", host))
	}
	return resource.NewSchemaless(attrs...)
}

//nolint:ireturn // no control over otel's sampler interface return.
func (o Options) sampler() trace.Sampler {
	if o.SampleRatio <= 0 || o.SampleRatio >= 1 {
		return trace.AlwaysSample()
	}
	return trace.ParentBased(trace.TraceIDRatioBased(o.SampleRatio))
}

// SetupOTelSDK installs the global providers and propagator.
// If it does not return an error, make sure to call shutdown for proper cleanup.
func SetupOTelSDK(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	res := opts.resource()

	var shutdownFuncs []func(context.Context) error

	// Joins the errors of every registered cleanup, each invoked once
	shutdown := func(ctx context.Context) error {
		var er error
		for _, fn := range shutdownFuncs {
			er = errors.Join(er, fn(ctx))
		}
		shutdownFuncs = nil
		return er
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	spans, err := spanExporter(ctx, opts)
	if err != nil {
		return shutdown, errors.Join(err, shutdown(ctx))
	}
	tracerProvider := trace.NewTracerProvider(
		trace.WithSampler(opts.sampler()),
		trace.WithBatcher(spans),
		trace.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	metrics, err := metricExporter(ctx, opts)
	if err != nil {
		return shutdown, errors.Join(err, shutdown(ctx))
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metrics)),
		metric.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	logs, err := logExporter(ctx, opts)
	if err != nil {
		return shutdown, errors.Join(err, shutdown(ctx))
	}
	loggerProvider := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(logs)),
		log.WithResource(res),
	)
	shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	return shutdown, nil
}

//nolint:ireturn // the sdk takes the exporter interface
func spanExporter(ctx context.Context, opts Options) (trace.SpanExporter, error) {
	if opts.UseOTLP {
		return otlptracegrpc.New(ctx)
	}
	return stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
}

//nolint:ireturn // the sdk takes the exporter interface
func metricExporter(ctx context.Context, opts Options) (metric.Exporter, error) {
	if opts.UseOTLP {
		return otlpmetricgrpc.New(ctx)
	}
	return stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
}

//nolint:ireturn // the sdk takes the exporter interface
func logExporter(ctx context.Context, opts Options) (log.Exporter, error) {
	if opts.UseOTLP {
		return otlploggrpc.New(ctx)
	}
	return stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
}
