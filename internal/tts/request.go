package tts

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

const defaultSpeed float32 = 1.0

// Request is one synthesis call. Zero values select defaults: the default
// voice, speaker 0, speed 1.0 and WAV output.
type Request struct {
	ID        string
	Text      string
	Voice     string
	SpeakerID int
	Speed     float32
	Format    audio.Format
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	if r.SpeakerID < 0 {
		return fmt.Errorf("%w: speaker id must be >= 0", ErrInvalidRequest)
	}
	if r.Speed < 0 || math.IsNaN(float64(r.Speed)) || math.IsInf(float64(r.Speed), 0) {
		return fmt.Errorf("%w: speed must be positive", ErrInvalidRequest)
	}
	if r.Format != "" {
		if _, err := audio.ParseFormat(string(r.Format)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return nil
}

func (r Request) withDefaults(speed float32) Request {
	if r.Speed == 0 {
		r.Speed = speed
	}
	if r.Format == "" {
		r.Format = audio.FormatWAV
	}
	return r
}

// Audio is a finished batch result. Samples are not clamped.
type Audio struct {
	SampleRate int
	Samples    []float32
}

func (a *Audio) clone() *Audio {
	return &Audio{SampleRate: a.SampleRate, Samples: slices.Clone(a.Samples)}
}

// Encode renders the samples in format f.
func (a *Audio) Encode(f audio.Format) ([]byte, error) {
	return f.Encode(a.SampleRate, a.Samples)
}

func (a *Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}
