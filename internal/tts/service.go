package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers tts.request messages on the bus with a stream of
// tts.audio chunks followed by one tts.done status.
type Service struct {
	bus      *bus.Client
	registry *Registry
	synth    *Synthesizer
	timeout  time.Duration
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, registry *Registry, synth *Synthesizer, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		registry: registry,
		synth:    synth,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(req)
	}()
}

func (s *Service) serve(req protocol.TTSRequest) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
	}

	h := s.registry.Resolve(req.Voice)
	stream, err := s.synth.SynthesizeStream(ctx, h, Request{
		ID:        req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		SpeakerID: req.SpeakerID,
		Speed:     req.Speed,
	})
	if err != nil {
		s.logger.Warn("tts request rejected", slog.String("session_id", req.SessionID), slogError(err))
		s.publishStatus(req, "", 0, err)
		return
	}
	defer stream.Close()

	// One chunk is held back so the last one can carry Final.
	var pending []byte
	sequence := 0
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("tts synthesis cancelled", slog.String("session_id", req.SessionID), slogError(err))
			s.publishStatus(req, h.Name, sequence, err)
			return
		}
		if pending != nil {
			s.publishChunk(req, h.Name, stream.SampleRate(), sequence, pending, false)
			sequence++
		}
		pending = chunk
	}
	s.publishChunk(req, h.Name, stream.SampleRate(), sequence, pending, true)
	sequence++

	<-stream.Done()
	s.publishStatus(req, h.Name, sequence, stream.Err())
}

func (s *Service) publishChunk(req protocol.TTSRequest, voice string, sampleRate, sequence int, pcm []byte, final bool) {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		Voice:      voice,
		SampleRate: sampleRate,
		Channels:   1,
		Encoding:   protocol.EncodingF32LE,
		Sequence:   sequence,
		PCM:        pcm,
		Final:      final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTTSAudio, data); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func (s *Service) publishStatus(req protocol.TTSRequest, voice string, chunks int, err error) {
	status := protocol.TTSStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Voice:     voice,
		Chunks:    chunks,
		Completed: err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	data, mErr := json.Marshal(status)
	if mErr != nil {
		s.logger.Warn("failed to marshal tts status", slogError(mErr))
		return
	}
	if pErr := s.bus.Conn().Publish(protocol.SubjectTTSDone, data); pErr != nil {
		s.logger.Warn("failed to publish tts status", slogError(pErr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
