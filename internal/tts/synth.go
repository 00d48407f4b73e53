package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/history"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives one record per finished synthesis.
type Recorder interface {
	Append(ctx context.Context, rec history.Record) error
}

type cacheKey struct {
	voice     string
	speakerID int
	speed     float32
	text      string
}

// Synthesizer runs requests against loaded handles.
type Synthesizer struct {
	log           *slog.Logger
	tracer        trace.Tracer
	metrics       *synthMetrics
	cache         *lru.Cache[cacheKey, *Audio]
	recorder      Recorder
	defaultSpeed  float32
	maxTextLength int
}

type Option func(*Synthesizer)

// WithCache keeps up to size batch results in memory. Sizes <= 0 disable it.
func WithCache(size int) Option {
	return func(s *Synthesizer) {
		if size <= 0 {
			return
		}
		cache, err := lru.New[cacheKey, *Audio](size)
		if err != nil {
			s.log.Warn("failed to create synthesis cache", slog.String("error", err.Error()))
			return
		}
		s.cache = cache
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Synthesizer) { s.recorder = r }
}

// WithDefaultSpeed sets the speed used when a request leaves it at zero.
func WithDefaultSpeed(speed float32) Option {
	return func(s *Synthesizer) {
		if speed > 0 {
			s.defaultSpeed = speed
		}
	}
}

// WithMaxTextLength rejects longer texts; zero means unlimited.
func WithMaxTextLength(n int) Option {
	return func(s *Synthesizer) { s.maxTextLength = n }
}

func NewSynthesizer(log *slog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		log:          log.With(slog.String("component", "synthesizer")),
		tracer:       otel.Tracer(tracerName),
		defaultSpeed: defaultSpeed,
	}
	for _, opt := range opts {
		opt(s)
	}
	m, err := newSynthMetrics(otel.Meter(meterName))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	s.metrics = m
	return s
}

func (s *Synthesizer) prepare(h *Handle, req Request) (Request, error) {
	if h == nil {
		return req, ErrNoModel
	}
	req = req.withDefaults(s.defaultSpeed)
	if err := req.Validate(); err != nil {
		return req, err
	}
	if s.maxTextLength > 0 && len(req.Text) > s.maxTextLength {
		return req, fmt.Errorf("%w: text longer than %d bytes", ErrInvalidRequest, s.maxTextLength)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

// Synthesize generates the whole utterance in one engine call. Engine
// failures are logged and reported as ErrSynthesisFailed.
func (s *Synthesizer) Synthesize(ctx context.Context, h *Handle, req Request) (*Audio, error) {
	req, err := s.prepare(h, req)
	if err != nil {
		return nil, err
	}

	key := cacheKey{voice: h.Name, speakerID: req.SpeakerID, speed: req.Speed, text: req.Text}
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.log.Debug("synthesis cache hit", slog.String("model", h.Name), slog.String("request_id", req.ID))
			out := cached.clone()
			s.metrics.observe(ctx, history.ModeBatch, h.Name, history.StatusOK, 0)
			rec := s.newRecord(h, req, history.ModeBatch, 0)
			rec.SampleRate, rec.Samples = out.SampleRate, int64(len(out.Samples))
			s.record(ctx, rec)
			return out, nil
		}
	}

	ctx, span := s.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.voice", h.Name),
		attribute.String("tts.request_id", req.ID),
		attribute.Int("tts.speaker_id", req.SpeakerID),
		attribute.Int("tts.text_length", len(req.Text)),
	))
	defer span.End()

	start := time.Now()
	gen, err := h.generate(req.Text, req.SpeakerID, req.Speed)
	elapsed := time.Since(start)
	rec := s.newRecord(h, req, history.ModeBatch, elapsed)
	if err != nil {
		s.log.Error("synthesis failed",
			slog.String("model", h.Name),
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		s.metrics.observe(ctx, history.ModeBatch, h.Name, history.StatusError, elapsed)
		rec.Status, rec.Error = history.StatusError, ErrSynthesisFailed.Error()
		s.record(ctx, rec)
		return nil, fmt.Errorf("%w: voice %s", ErrSynthesisFailed, h.Name)
	}

	out := &Audio{SampleRate: gen.SampleRate, Samples: gen.Samples}
	if out.SampleRate <= 0 {
		out.SampleRate = h.SampleRate()
	}
	s.metrics.observe(ctx, history.ModeBatch, h.Name, history.StatusOK, elapsed)
	rec.SampleRate, rec.Samples = out.SampleRate, int64(len(out.Samples))
	s.record(ctx, rec)
	if s.cache != nil {
		s.cache.Add(key, out.clone())
	}
	s.log.Debug("synthesis finished",
		slog.String("model", h.Name),
		slog.String("request_id", req.ID),
		slog.Int("samples", len(out.Samples)),
		slog.Duration("elapsed", elapsed))
	return out, nil
}

// SynthesizeStream starts the engine in its own goroutine and returns at
// once. Chunks are handed over through an unbounded queue, so the engine
// callback never waits for the consumer. The queue is closed when the engine
// call returns, fails or panics.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, h *Handle, req Request) (*Stream, error) {
	req, err := s.prepare(h, req)
	if err != nil {
		return nil, err
	}

	stream := &Stream{
		ID:         req.ID,
		sampleRate: h.SampleRate(),
		queue:      newChunkQueue(),
		done:       make(chan struct{}),
	}
	// The producer outlives the request context; only the span links to it.
	spanCtx, span := s.tracer.Start(context.WithoutCancel(ctx), "tts.synthesize_stream", trace.WithAttributes(
		attribute.String("tts.voice", h.Name),
		attribute.String("tts.request_id", req.ID),
		attribute.Int("tts.speaker_id", req.SpeakerID),
		attribute.Int("tts.text_length", len(req.Text)),
	))

	s.metrics.streamStarted(spanCtx)
	go s.produce(spanCtx, span, h, req, stream)
	return stream, nil
}

func (s *Synthesizer) produce(ctx context.Context, span trace.Span, h *Handle, req Request, stream *Stream) {
	start := time.Now()
	chunks := 0
	var samples int64
	defer func() {
		if p := recover(); p != nil {
			stream.err = fmt.Errorf("%w: voice %s: panic: %v", ErrSynthesisFailed, h.Name, p)
			s.log.Error("streaming synthesis panicked",
				slog.String("model", h.Name),
				slog.String("request_id", req.ID),
				slog.Any("panic", p))
		}
		elapsed := time.Since(start)
		rec := s.newRecord(h, req, history.ModeStream, elapsed)
		rec.SampleRate, rec.Samples, rec.Chunks = stream.sampleRate, samples, chunks
		status := history.StatusOK
		if stream.err != nil {
			status = history.StatusError
			rec.Error = ErrSynthesisFailed.Error()
			span.RecordError(stream.err)
			span.SetStatus(codes.Error, "streaming synthesis failed")
		}
		rec.Status = status
		s.metrics.observe(ctx, history.ModeStream, h.Name, status, elapsed)
		s.metrics.streamEnded(ctx)
		span.SetAttributes(attribute.Int("tts.chunks", chunks))
		span.End()
		s.record(ctx, rec)

		stream.queue.close()
		close(stream.done)
	}()

	err := h.generateStreaming(req.Text, req.Speed, req.SpeakerID, func(chunk []float32) bool {
		stream.queue.push(audio.Float32LE(chunk))
		chunks++
		samples += int64(len(chunk))
		s.metrics.chunk(ctx, h.Name)
		return true
	})
	if err != nil {
		stream.err = fmt.Errorf("%w: voice %s", ErrSynthesisFailed, h.Name)
		s.log.Error("streaming synthesis failed",
			slog.String("model", h.Name),
			slog.String("request_id", req.ID),
			slog.Int("chunks", chunks),
			slog.String("error", err.Error()))
		return
	}
	s.log.Debug("streaming synthesis finished",
		slog.String("model", h.Name),
		slog.String("request_id", req.ID),
		slog.Int("chunks", chunks),
		slog.Duration("elapsed", time.Since(start)))
}

func (s *Synthesizer) newRecord(h *Handle, req Request, mode string, elapsed time.Duration) history.Record {
	return history.Record{
		ID:         req.ID,
		Voice:      h.Name,
		Family:     h.Family.String(),
		Mode:       mode,
		SpeakerID:  req.SpeakerID,
		Speed:      float64(req.Speed),
		TextLength: len(req.Text),
		Elapsed:    elapsed.Milliseconds(),
		Status:     history.StatusOK,
	}
}

func (s *Synthesizer) record(ctx context.Context, rec history.Record) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Append(ctx, rec); err != nil {
		s.log.Warn("failed to record synthesis", slog.String("request_id", rec.ID), slog.String("error", err.Error()))
	}
}
