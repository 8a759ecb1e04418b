// Package metrics 是 fire-and-forget 的指标出口
// 指标永远不在正确性路径上：任何实现的失败 (包括 panic) 都不能影响流水线
package metrics

import (
	"context"
	"time"

	"vaultgate/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "vaultgate"

type Sink interface {
	ScanDuration(ctx context.Context, d time.Duration)
	// ScanVerdict: clean | infected | unavailable
	ScanVerdict(ctx context.Context, verdict string)
	StorageLatency(ctx context.Context, op string, d time.Duration, err error)
	HashMismatch(ctx context.Context)
	// IngestOutcome 以稳定错误码 (或 OK) 计数
	IngestOutcome(ctx context.Context, code string)
}

type Noop struct{}

func (Noop) ScanDuration(context.Context, time.Duration) {}
func (Noop) ScanVerdict(context.Context, string) {}
func (Noop) StorageLatency(context.Context, string, time.Duration, error) {}
func (Noop) HashMismatch(context.Context) {}
func (Noop) IngestOutcome(context.Context, string) {}

// OTel 基于全局 MeterProvider；exporter 由部署方注册
type OTel struct {
	scanDuration   metric.Float64Histogram
	scanVerdicts   metric.Int64Counter
	storageLatency metric.Float64Histogram
	hashMismatches metric.Int64Counter
	ingests        metric.Int64Counter
}

func NewOTel(meter metric.Meter) (*OTel, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var (
		m   OTel
		err error
	)
	if m.scanDuration, err = meter.Float64Histogram("vaultgate.scan.duration",
		metric.WithDescription("Malware scan duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.scanVerdicts, err = meter.Int64Counter("vaultgate.scan.verdicts",
		metric.WithDescription("Malware scan verdicts by outcome")); err != nil {
		return nil, err
	}
	if m.storageLatency, err = meter.Float64Histogram("vaultgate.storage.latency",
		metric.WithDescription("Object storage call latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.hashMismatches, err = meter.Int64Counter("vaultgate.hash.mismatches",
		metric.WithDescription("Uploads rejected for integrity mismatch")); err != nil {
		return nil, err
	}
	if m.ingests, err = meter.Int64Counter("vaultgate.ingest.outcomes",
		metric.WithDescription("Ingest results by code")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *OTel) ScanDuration(ctx context.Context, d time.Duration) {
	m.scanDuration.Record(ctx, d.Seconds())
}

func (m *OTel) ScanVerdict(ctx context.Context, verdict string) {
	m.scanVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

func (m *OTel) StorageLatency(ctx context.Context, op string, d time.Duration, err error) {
	m.storageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

func (m *OTel) HashMismatch(ctx context.Context) {
	m.hashMismatches.Add(ctx, 1)
}

func (m *OTel) IngestOutcome(ctx context.Context, code string) {
	m.ingests.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// Safe 包装任意 Sink，吞掉 panic
func Safe(s Sink) Sink {
	if s == nil {
		return Noop{}
	}
	if _, ok := s.(safeSink); ok {
		return s
	}
	return safeSink{inner: s}
}

type safeSink struct{ inner Sink }

func guard(ctx context.Context) {
	if r := recover(); r != nil {
		logger.FromContext(ctx).Warn("metrics sink panicked", "panic", r)
	}
}

func (s safeSink) ScanDuration(ctx context.Context, d time.Duration) {
	defer guard(ctx)
	s.inner.ScanDuration(ctx, d)
}

func (s safeSink) ScanVerdict(ctx context.Context, verdict string) {
	defer guard(ctx)
	s.inner.ScanVerdict(ctx, verdict)
}

func (s safeSink) StorageLatency(ctx context.Context, op string, d time.Duration, err error) {
	defer guard(ctx)
	s.inner.StorageLatency(ctx, op, d, err)
}

func (s safeSink) HashMismatch(ctx context.Context) {
	defer guard(ctx)
	s.inner.HashMismatch(ctx)
}

func (s safeSink) IngestOutcome(ctx context.Context, code string) {
	defer guard(ctx)
	s.inner.IngestOutcome(ctx, code)
}
