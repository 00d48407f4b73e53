//go:build sherpa

package engine

import (
	"errors"
	"fmt"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
	"github.com/loqalabs/loqa-tts/internal/model"
)

// SherpaName is the factory name of the in-process onnx engine.
const SherpaName = "sherpa"

func init() {
	Register(SherpaName, NewSherpa)
}

type sherpaEngine struct {
	tts *sherpa.OfflineTts
}

// NewSherpa loads the model described by cfg into the sherpa-onnx runtime.
func NewSherpa(cfg model.EngineConfig) (Engine, error) {
	c := sherpa.OfflineTtsConfig{MaxNumSentences: int32(cfg.MaxNumSentences)}
	c.Model.NumThreads = int32(cfg.NumThreads)
	if cfg.Debug {
		c.Model.Debug = 1
	}
	c.Model.Provider = cfg.Provider
	switch cfg.Family {
	case model.Kokoro:
		c.Model.Kokoro = sherpa.OfflineTtsKokoroModelConfig{
			Model:       cfg.Kokoro.Model,
			Voices:      cfg.Kokoro.Voices,
			Tokens:      cfg.Kokoro.Tokens,
			Lexicon:     cfg.Kokoro.Lexicon,
			DataDir:     cfg.Kokoro.DataDir,
			LengthScale: 1,
		}
	case model.Matcha:
		c.Model.Matcha = sherpa.OfflineTtsMatchaModelConfig{
			AcousticModel: cfg.Matcha.AcousticModel,
			Vocoder:       cfg.Matcha.Vocoder,
			Lexicon:       cfg.Matcha.Lexicon,
			Tokens:        cfg.Matcha.Tokens,
			DataDir:       cfg.Matcha.DataDir,
			NoiseScale:    0.667,
			LengthScale:   1,
		}
	case model.Vits:
		c.Model.Vits = sherpa.OfflineTtsVitsModelConfig{
			Model:       cfg.Vits.Model,
			Lexicon:     cfg.Vits.Lexicon,
			Tokens:      cfg.Vits.Tokens,
			DataDir:     cfg.Vits.DataDir,
			NoiseScale:  0.667,
			NoiseScaleW: 0.8,
			LengthScale: 1,
		}
	default:
		return nil, fmt.Errorf("sherpa: unsupported family %s", cfg.Family)
	}
	tts := sherpa.NewOfflineTts(&c)
	if tts == nil {
		return nil, errors.New("sherpa: failed to create offline tts")
	}
	return &sherpaEngine{tts: tts}, nil
}

func (s *sherpaEngine) SampleRate() int  { return s.tts.SampleRate() }
func (s *sherpaEngine) NumSpeakers() int { return s.tts.NumSpeakers() }

func (s *sherpaEngine) Close() error {
	sherpa.DeleteOfflineTts(s.tts)
	return nil
}

func (s *sherpaEngine) Generate(text string, speakerID int, speed float32) (Generated, error) {
	if strings.TrimSpace(text) == "" {
		return Generated{}, ErrEmptyText
	}
	out := s.tts.Generate(text, speakerID, speed)
	if out == nil {
		return Generated{}, errors.New("sherpa: generate returned no audio")
	}
	return Generated{SampleRate: out.SampleRate, Samples: out.Samples}, nil
}

// GenerateStreaming generates one sentence at a time and reports each as a
// chunk. The Go binding has no progress callback.
func (s *sherpaEngine) GenerateStreaming(text string, speed float32, speakerID int, cb Callback) error {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return ErrEmptyText
	}
	for _, sentence := range sentences {
		out := s.tts.Generate(sentence, speakerID, speed)
		if out == nil {
			return fmt.Errorf("sherpa: generate %q returned no audio", sentence)
		}
		if !cb(out.Samples) {
			return nil
		}
	}
	return nil
}
