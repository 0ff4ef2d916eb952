// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sessionotel provides OpenTelemetry instrumentation for SQL session
// connections. It implements the [sqlsession.QueryHook] interface to add
// client spans and metrics around statement execution.
//
// Usage:
//
//	conn, err := sqlsession.Connect(ctx, cfg)
//	// ... handle err ...
//	sessionotel.InstrumentConnection(conn, sessionotel.DefaultConfig())
package sessionotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/wherobots-sql/sqlsession"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "wherobots_sql"
	dbSystem            = "wherobots"
)

// OtelConfig configures OpenTelemetry instrumentation for a connection.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed queries.
	// Default true.
	RecordExceptions bool
	// IncludeStatement adds the SQL text as db.query.text. Default false.
	IncludeStatement bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with sensible defaults.
// TracerProvider and MeterProvider are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentConnection attaches OpenTelemetry instrumentation to a
// connection via [sqlsession.Connection.SetQueryHook].
func InstrumentConnection(conn *sqlsession.Connection, cfg OtelConfig) {
	conn.SetQueryHook(NewHook(cfg))
}

// NewHook builds the hook without installing it.
func NewHook(cfg OtelConfig) sqlsession.QueryHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.queryCounter, _ = meter.Int64Counter("db.client.queries",
			metric.WithUnit("{query}"),
			metric.WithDescription("Number of SQL statements executed"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("db.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Time from submission to outcome"),
		)
		hook.payloadHistogram, _ = meter.Int64Histogram("db.client.response.size",
			metric.WithUnit("By"),
			metric.WithDescription("Compressed size of inline result payloads"),
		)
	}
	return hook
}

// otelHook implements sqlsession.QueryHook with OpenTelemetry tracing and
// metrics.
type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	queryCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
	payloadHistogram  metric.Int64Histogram
}

// spanToken is the HookToken returned by OnQueryStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnQueryStart starts a client span for the statement.
func (h *otelHook) OnQueryStart(ctx context.Context, info sqlsession.QueryInfo) (context.Context, sqlsession.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", dbSystem),
		attribute.String("db.wherobots.execution_id", info.ExecutionID),
		attribute.String("db.wherobots.runtime", string(info.Runtime)),
		attribute.String("db.wherobots.region", string(info.Region)),
		attribute.Bool("db.wherobots.stored", info.Stored),
		attribute.String("server.address", info.ChannelURL),
	}
	if h.cfg.IncludeStatement {
		attrs = append(attrs, attribute.String("db.query.text", info.Statement))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, "wherobots_sql/execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnQueryEnd records metrics and span attributes, then ends the span.
func (h *otelHook) OnQueryEnd(ctx context.Context, token sqlsession.HookToken, info sqlsession.QueryInfo, stats *sqlsession.QueryStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	outcome := sqlsession.OutcomeError
	if stats != nil {
		outcome = stats.Outcome
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("db.system", dbSystem),
			attribute.String("db.wherobots.runtime", string(info.Runtime)),
			attribute.String("db.wherobots.region", string(info.Region)),
			attribute.String("outcome", outcome),
		)
		if h.queryCounter != nil {
			h.queryCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.payloadHistogram != nil && stats != nil && stats.PayloadBytes > 0 {
			h.payloadHistogram.Record(ctx, stats.PayloadBytes, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	st.span.SetAttributes(attribute.String("db.wherobots.outcome", outcome))
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("db.wherobots.payload_bytes", stats.PayloadBytes),
			attribute.String("db.wherobots.compression", string(stats.Compression)),
		)
	}

	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var sessErr *sqlsession.Error
		if errors.As(err, &sessErr) {
			errType = string(sessErr.Kind)
		}
		st.span.SetAttributes(attribute.String("error.type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
