package engine

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-tts/internal/model"
)

func init() {
	Register("mock", NewMock)
}

const (
	mockAmplitude    = 0.3
	mockSecondsPerCh = 0.06
	mockBaseFreq     = 220.0
)

// mockEngine renders a sine tone per sentence. It needs no model weights and
// is meant for development and tests.
type mockEngine struct {
	sampleRate  int
	numSpeakers int
}

func NewMock(cfg model.EngineConfig) (Engine, error) {
	m := &mockEngine{sampleRate: 22050, numSpeakers: 1}
	switch cfg.Family {
	case model.Kokoro:
		m.sampleRate, m.numSpeakers = 24000, 53
	case model.Matcha:
		m.sampleRate = 16000
	}
	return m, nil
}

func (m *mockEngine) SampleRate() int  { return m.sampleRate }
func (m *mockEngine) NumSpeakers() int { return m.numSpeakers }
func (m *mockEngine) Close() error     { return nil }

func (m *mockEngine) Generate(text string, speakerID int, speed float32) (Generated, error) {
	var samples []float32
	err := m.GenerateStreaming(text, speed, speakerID, func(chunk []float32) bool {
		samples = append(samples, chunk...)
		return true
	})
	if err != nil {
		return Generated{}, err
	}
	return Generated{SampleRate: m.sampleRate, Samples: samples}, nil
}

func (m *mockEngine) GenerateStreaming(text string, speed float32, speakerID int, cb Callback) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if speed <= 0 {
		speed = 1
	}
	freq := mockBaseFreq * (1 + float64(speakerID%12)/12)
	for _, sentence := range SplitSentences(text) {
		if !cb(m.tone(sentence, speed, freq)) {
			return nil
		}
	}
	return nil
}

func (m *mockEngine) tone(sentence string, speed float32, freq float64) []float32 {
	seconds := float64(utf8.RuneCountInString(sentence)) * mockSecondsPerCh / float64(speed)
	n := int(seconds * float64(m.sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(mockAmplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return out
}
