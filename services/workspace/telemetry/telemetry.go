// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned by Init when called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an exporter name Init does not know.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config is the telemetry section of the changegraph configuration.
// Environment overrides are applied by the config package.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// TraceExporter is "otlp", "stdout" or "none". Snapshot spans
	// (Write, Find, CalculateRebaseBatch, ...) and HTTP spans go here.
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// SampleRatio is the fraction of root spans kept. Child spans follow
	// their parent.
	SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`

	// MetricExporter is "prometheus", "stdout" or "none". With
	// "prometheus" the HTTP instruments join the promauto collectors of
	// the snapshot, layerstore and workpool packages on /metrics.
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// DefaultConfig keeps every span off the wire and serves metrics on
// /metrics.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "changegraph",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		TraceExporter:  "none",
		SampleRatio:    1,
		MetricExporter: "prometheus",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

// Init installs the global tracer and meter providers for `changegraph serve`.
//
// Description:
//
//	Builds the providers selected by cfg and installs them together with
//	the W3C trace-context propagator. On failure the providers already
//	built are shut down and the globals are left as they were.
//
// Outputs:
//
//	func(context.Context) error - Flushes and stops the providers.
//	error - ErrNilContext, ErrUnknownExporter or an exporter failure.
//
// Thread Safety: Call once, before the service starts handling requests.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var (
		stops   []func(context.Context) error
		install []func()
	)
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}
	abort := func(err error) (func(context.Context) error, error) {
		return nil, errors.Join(err, shutdown(ctx))
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	if cfg.TraceExporter != "none" {
		exporter, err := spanExporter(ctx, cfg)
		if err != nil {
			return abort(fmt.Errorf("init tracer: %w", err))
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exporter),
			trace.WithResource(res),
			trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRatio))),
		)
		stops = append(stops, tp.Shutdown)
		install = append(install, func() { otel.SetTracerProvider(tp) })
	}

	if cfg.MetricExporter != "none" {
		reader, err := metricReader(cfg)
		if err != nil {
			return abort(fmt.Errorf("init meter: %w", err))
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		stops = append(stops, mp.Shutdown)
		install = append(install, func() { otel.SetMeterProvider(mp) })
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	for _, set := range install {
		set()
	}

	return shutdown, nil
}

func spanExporter(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

func metricReader(cfg Config) (metric.Reader, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		// Registers with the default prometheus registry served by
		// MetricsHandler.
		return promexporter.New()
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exporter), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// MetricsHandler serves the default prometheus registry on /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
