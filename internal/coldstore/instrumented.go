package coldstore

import (
	"context"
	"time"

	"github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented records latency and outcome of every cold store call.
type Instrumented struct {
	next    domain.Store
	backend string
	metrics *metrics.ArchivalJobMetrics
	tracer  trace.Tracer
}

func Instrument(next domain.Store, backend string, m *metrics.ArchivalJobMetrics) *Instrumented {
	return &Instrumented{
		next:    next,
		backend: backend,
		metrics: m,
		tracer:  otel.Tracer("billarchive/coldstore"),
	}
}

func (s *Instrumented) Put(ctx context.Context, name string, data []byte, overwrite bool) (string, error) {
	ctx, span := s.start(ctx, "put")
	defer span.End()

	start := time.Now()
	locator, err := s.next.Put(ctx, name, data, overwrite)
	s.finish(span, "put", start, err)
	return locator, err
}

func (s *Instrumented) Get(ctx context.Context, name string) ([]byte, error) {
	ctx, span := s.start(ctx, "get")
	defer span.End()

	start := time.Now()
	data, err := s.next.Get(ctx, name)
	s.finish(span, "get", start, err)
	return data, err
}

func (s *Instrumented) NameFromLocator(locator string) (string, bool) {
	return s.next.NameFromLocator(locator)
}

func (s *Instrumented) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "coldstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cold_store.backend", s.backend)),
	)
}

func (s *Instrumented) finish(span trace.Span, op string, start time.Time, err error) {
	s.metrics.ObserveColdStoreOp(s.backend, op, time.Since(start), err)
	if err != nil {
		span.SetStatus(codes.Error, op+" failed")
	}
}
