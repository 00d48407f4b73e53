package tts

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName  = "github.com/loqalabs/loqa-tts/tts"
	tracerName = "github.com/loqalabs/loqa-tts/tts"
)

type synthMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Counter
	active   metric.Int64UpDownCounter
}

func newSynthMetrics(meter metric.Meter) (*synthMetrics, error) {
	requests, err := meter.Int64Counter("loqa.tts.requests", metric.WithDescription("Synthesis requests by mode and status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("loqa.tts.duration", metric.WithDescription("Synthesis wall time"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("loqa.tts.stream.chunks", metric.WithDescription("Streamed audio chunks"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("loqa.tts.streams.active", metric.WithDescription("Streams currently generating"))
	if err != nil {
		return nil, err
	}
	return &synthMetrics{requests: requests, duration: duration, chunks: chunks, active: active}, nil
}

func (m *synthMetrics) observe(ctx context.Context, mode, voice, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("voice", voice),
		attribute.String("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *synthMetrics) chunk(ctx context.Context, voice string) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}

func (m *synthMetrics) streamStarted(ctx context.Context) {
	if m != nil {
		m.active.Add(ctx, 1)
	}
}

func (m *synthMetrics) streamEnded(ctx context.Context) {
	if m != nil {
		m.active.Add(ctx, -1)
	}
}
