package tts

import (
	"context"
	"io"
	"iter"
)

// Stream delivers the chunks of one streaming synthesis in production order.
// Each chunk is little-endian float32 samples.
type Stream struct {
	ID string

	sampleRate int
	queue      *chunkQueue
	done       chan struct{}
	err        error
}

func (s *Stream) SampleRate() int { return s.sampleRate }

// Next returns the next chunk, or io.EOF after the last one. An engine
// failure ends the stream early; Err reports it once Done is closed.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	chunk, ok, err := s.queue.pop(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	return chunk, nil
}

// All ranges over the remaining chunks until the end of the stream or ctx is
// done. Breaking out of the loop leaves the producer running to completion.
func (s *Stream) All(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			chunk, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// Close tells the stream the consumer is gone. Buffered chunks are dropped
// and later ones are discarded; the engine call still runs to the end.
func (s *Stream) Close() {
	s.queue.abandon()
}

// Done is closed when the engine call has returned.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err is the producer error, valid after Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
