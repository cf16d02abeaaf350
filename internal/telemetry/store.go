package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pairsync/pairsync/internal/store"
)

const storeScopeName = "github.com/pairsync/pairsync/store"

// InstrumentedStore wraps store.Store with OTel tracing and metrics.
// Every method gets a span and is counted in pairsync.store.* metrics.
// Use WrapStore to create one; it returns the original store unchanged
// when telemetry is disabled.
type InstrumentedStore struct {
	inner  store.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s store.Store) store.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("pairsync.store.operations",
		metric.WithDescription("Total pairing store operations executed"),
	)
	dur, _ := m.Float64Histogram("pairsync.store.operation.duration",
		metric.WithDescription("Pairing store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("pairsync.store.errors",
		metric.WithDescription("Total pairing store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and counts the named store operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, recording duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Insert(ctx context.Context, m store.Mapping) error {
	attrs := []attribute.KeyValue{
		attribute.String("pairsync.abook.id", m.ABookID),
		attribute.String("pairsync.crm.id", m.CRMID),
	}
	ctx, span, t := s.op(ctx, "Insert", attrs...)
	err := s.inner.Insert(ctx, m)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateABook(ctx context.Context, abookID string, upd store.MappingUpdate) error {
	attrs := []attribute.KeyValue{attribute.String("pairsync.abook.id", abookID)}
	ctx, span, t := s.op(ctx, "UpdateABook", attrs...)
	err := s.inner.UpdateABook(ctx, abookID, upd)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateCRM(ctx context.Context, crmID string, upd store.MappingUpdate) error {
	attrs := []attribute.KeyValue{attribute.String("pairsync.crm.id", crmID)}
	ctx, span, t := s.op(ctx, "UpdateCRM", attrs...)
	err := s.inner.UpdateCRM(ctx, crmID, upd)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) FindByABookID(ctx context.Context, abookID string) (*store.Mapping, error) {
	attrs := []attribute.KeyValue{attribute.String("pairsync.abook.id", abookID)}
	ctx, span, t := s.op(ctx, "FindByABookID", attrs...)
	v, err := s.inner.FindByABookID(ctx, abookID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) FindByCRMID(ctx context.Context, crmID string) (*store.Mapping, error) {
	attrs := []attribute.KeyValue{attribute.String("pairsync.crm.id", crmID)}
	ctx, span, t := s.op(ctx, "FindByCRMID", attrs...)
	v, err := s.inner.FindByCRMID(ctx, crmID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, abookID, crmID string) error {
	attrs := []attribute.KeyValue{
		attribute.String("pairsync.abook.id", abookID),
		attribute.String("pairsync.crm.id", crmID),
	}
	ctx, span, t := s.op(ctx, "Delete", attrs...)
	err := s.inner.Delete(ctx, abookID, crmID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) AllMappings(ctx context.Context) ([]store.Mapping, error) {
	ctx, span, t := s.op(ctx, "AllMappings")
	v, err := s.inner.AllMappings(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("pairsync.mapping.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) Cursor(ctx context.Context) (*store.Cursor, error) {
	ctx, span, t := s.op(ctx, "Cursor")
	v, err := s.inner.Cursor(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) SetCursor(ctx context.Context, token string) error {
	ctx, span, t := s.op(ctx, "SetCursor")
	err := s.inner.SetCursor(ctx, token)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Reset(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Reset")
	err := s.inner.Reset(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
