package tts

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/stretchr/testify/require"
)

func testHandle(e *fakeEngine) *Handle {
	return NewHandle("kokoro", "/models/kokoro", model.Kokoro, e)
}

func drain(t *testing.T, s *Stream) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out [][]byte
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunk)
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	chunks := [][]float32{{0.1, 0.2, 0.3}, {0.4}, {0.5, 0.6}}
	e := newFakeEngine(chunks...)
	s := NewSynthesizer(discardLogger())

	stream, err := s.SynthesizeStream(context.Background(), testHandle(e), Request{Text: "Hello. World."})
	require.NoError(t, err)
	require.Equal(t, 24000, stream.SampleRate())
	require.NotEmpty(t, stream.ID)

	got := drain(t, stream)
	require.Len(t, got, len(chunks))
	for i, chunk := range got {
		require.Len(t, chunk, 4*len(chunks[i]))
		samples, err := audio.ParseFloat32LE(chunk)
		require.NoError(t, err)
		require.Equal(t, chunks[i], samples)
	}
	<-stream.Done()
	require.NoError(t, stream.Err())
}

func TestStreamEndsEarlyOnEngineFailure(t *testing.T) {
	e := newFakeEngine([]float32{0.1}, []float32{0.2}, []float32{0.3})
	e.failAt = 2
	rec := &memoryRecorder{}
	s := NewSynthesizer(discardLogger(), WithRecorder(rec))

	stream, err := s.SynthesizeStream(context.Background(), testHandle(e), Request{Text: "three sentences"})
	require.NoError(t, err)
	require.Len(t, drain(t, stream), 2)

	<-stream.Done()
	require.ErrorIs(t, stream.Err(), ErrSynthesisFailed)
	require.NotContains(t, stream.Err().Error(), "onnx runtime error")

	records := rec.all()
	require.Len(t, records, 1)
	require.Equal(t, history.ModeStream, records[0].Mode)
	require.Equal(t, history.StatusError, records[0].Status)
	require.Equal(t, 2, records[0].Chunks)
}

func TestStreamClosesQueueOnPanic(t *testing.T) {
	e := newFakeEngine([]float32{0.1}, []float32{0.2})
	e.failAt = 1
	e.panicMsg = "segfault in native code"
	s := NewSynthesizer(discardLogger())

	stream, err := s.SynthesizeStream(context.Background(), testHandle(e), Request{Text: "boom"})
	require.NoError(t, err)
	require.Len(t, drain(t, stream), 1)
	<-stream.Done()
	require.ErrorIs(t, stream.Err(), ErrSynthesisFailed)
}

func TestStreamEndsWhenEngineFailsBeforeFirstChunk(t *testing.T) {
	e := newFakeEngine([]float32{0.1}, []float32{0.2})
	e.failAt = 0
	s := NewSynthesizer(discardLogger())

	stream, err := s.SynthesizeStream(context.Background(), testHandle(e), Request{Text: "nothing comes out"})
	require.NoError(t, err)
	require.Empty(t, drain(t, stream))

	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish")
	}
	require.ErrorIs(t, stream.Err(), ErrSynthesisFailed)
}

func TestStreamWithNoChunks(t *testing.T) {
	s := NewSynthesizer(discardLogger())
	stream, err := s.SynthesizeStream(context.Background(), testHandle(newFakeEngine()), Request{Text: "quiet"})
	require.NoError(t, err)
	require.Empty(t, drain(t, stream))
}

func TestStreamConsumerMayStopEarly(t *testing.T) {
	chunks := make([][]float32, 50)
	for i := range chunks {
		chunks[i] = []float32{float32(i) / 100}
	}
	e := newFakeEngine(chunks...)
	s := NewSynthesizer(discardLogger())

	stream, err := s.SynthesizeStream(context.Background(), testHandle(e), Request{Text: "long text"})
	require.NoError(t, err)

	seen := 0
	for range stream.All(context.Background()) {
		seen++
		if seen == 3 {
			break
		}
	}
	stream.Close()

	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish after the consumer left")
	}
	require.NoError(t, stream.Err())
	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamNextHonoursContext(t *testing.T) {
	q := newChunkQueue()
	stream := &Stream{queue: q, done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueConcurrentProducer(t *testing.T) {
	q := newChunkQueue()
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.push([]byte{byte(i), byte(i >> 8)})
		}
		q.close()
	}()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		chunk, ok, err := q.pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i), byte(i >> 8)}, chunk)
	}
	_, ok, err := q.pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	wg.Wait()
}

func TestSynthesizeBatch(t *testing.T) {
	e := newFakeEngine([]float32{0.5, -0.5}, []float32{1.5})
	rec := &memoryRecorder{}
	s := NewSynthesizer(discardLogger(), WithRecorder(rec))

	out, err := s.Synthesize(context.Background(), testHandle(e), Request{Text: "Hello", SpeakerID: 3, Speed: 1.5})
	require.NoError(t, err)
	require.Equal(t, 24000, out.SampleRate)
	require.Equal(t, []float32{0.5, -0.5, 1.5}, out.Samples)

	wav, err := out.Encode(audio.FormatWAV)
	require.NoError(t, err)
	require.Len(t, wav, 44+2*3)

	records := rec.all()
	require.Len(t, records, 1)
	require.Equal(t, history.ModeBatch, records[0].Mode)
	require.Equal(t, 3, records[0].SpeakerID)
	require.InDelta(t, 1.5, records[0].Speed, 1e-6)
	require.EqualValues(t, 3, records[0].Samples)
}

func TestSynthesizeBatchFailureHidesEngineError(t *testing.T) {
	e := newFakeEngine()
	e.genErr = errors.New("ORT_FAIL: tensor shape mismatch")
	s := NewSynthesizer(discardLogger())

	_, err := s.Synthesize(context.Background(), testHandle(e), Request{Text: "Hello"})
	require.ErrorIs(t, err, ErrSynthesisFailed)
	require.NotContains(t, err.Error(), "tensor")

	e = newFakeEngine()
	e.panicMsg = "nil pointer in native code"
	_, err = s.Synthesize(context.Background(), testHandle(e), Request{Text: "Hello"})
	require.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestSynthesizeCache(t *testing.T) {
	e := newFakeEngine([]float32{0.1, 0.2})
	rec := &memoryRecorder{}
	s := NewSynthesizer(discardLogger(), WithCache(8), WithRecorder(rec))
	h := testHandle(e)

	first, err := s.Synthesize(context.Background(), h, Request{Text: "cached"})
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), h, Request{Text: "cached", Speed: 1})
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, first.Samples, second.Samples)
	require.EqualValues(t, 1, e.calls.Load())
	require.Len(t, rec.all(), 2)

	// Each caller owns its samples.
	first.Samples[0] = 0.9
	third, err := s.Synthesize(context.Background(), h, Request{Text: "cached"})
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2}, third.Samples)
	second.Samples[1] = 0.7
	require.Equal(t, []float32{0.1, 0.2}, third.Samples)

	_, err = s.Synthesize(context.Background(), h, Request{Text: "cached", SpeakerID: 2})
	require.NoError(t, err)
	require.EqualValues(t, 2, e.calls.Load())
}

func TestSynthesizeValidation(t *testing.T) {
	s := NewSynthesizer(discardLogger(), WithMaxTextLength(10))
	h := testHandle(newFakeEngine([]float32{0.1}))
	ctx := context.Background()

	_, err := s.Synthesize(ctx, nil, Request{Text: "hello"})
	require.ErrorIs(t, err, ErrNoModel)

	cases := []Request{
		{Text: "   "},
		{Text: "hi", SpeakerID: -1},
		{Text: "hi", Speed: -2},
		{Text: "hi", Format: "mp3"},
		{Text: "this text is too long"},
	}
	for _, req := range cases {
		_, err := s.Synthesize(ctx, h, req)
		require.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
		_, err = s.SynthesizeStream(ctx, h, req)
		require.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestDefaultSpeedApplied(t *testing.T) {
	var got float32
	e := &speedEngine{fakeEngine: newFakeEngine([]float32{0}), speed: &got}
	s := NewSynthesizer(discardLogger(), WithDefaultSpeed(1.25))
	_, err := s.Synthesize(context.Background(), NewHandle("v", "", model.Vits, e), Request{Text: "hi"})
	require.NoError(t, err)
	require.InDelta(t, 1.25, got, 1e-6)
}

type speedEngine struct {
	*fakeEngine
	speed *float32
}

func (s *speedEngine) Generate(text string, speakerID int, speed float32) (engine.Generated, error) {
	*s.speed = speed
	return s.fakeEngine.Generate(text, speakerID, speed)
}
