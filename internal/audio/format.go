package audio

import (
	"fmt"
	"strings"
)

// Format is the container requested for a whole-file response.
type Format string

const (
	FormatWAV Format = "wav"
	FormatPCM Format = "pcm"
)

const (
	ContentTypeWAV = "audio/wav"
	ContentTypePCM = "audio/pcm"
)

// ParseFormat maps a client supplied format name to a Format. An empty name
// selects WAV.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(FormatWAV):
		return FormatWAV, nil
	case string(FormatPCM):
		return FormatPCM, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", name)
	}
}

func (f Format) ContentType() string {
	if f == FormatPCM {
		return ContentTypePCM
	}
	return ContentTypeWAV
}

// FileName is the attachment name used for downloads.
func (f Format) FileName() string {
	return "speech." + string(f)
}

// Encode renders samples in the format's byte layout.
func (f Format) Encode(sampleRate int, samples []float32) ([]byte, error) {
	if f == FormatPCM {
		return QuantizePCM16(samples), nil
	}
	return EncodeWAV(sampleRate, samples)
}
