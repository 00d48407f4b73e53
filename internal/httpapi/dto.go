package httpapi

import (
	"time"

	"github.com/loqalabs/loqa-tts/internal/catalog"
	"github.com/loqalabs/loqa-tts/internal/history"
)

type errorResponse struct {
	Error string `json:"error"`
}

type modelHealth struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	SampleRate  int    `json:"sample_rate"`
	NumSpeakers int    `json:"num_speakers"`
}

type healthResponse struct {
	Status       string        `json:"status"`
	LoadedModels []modelHealth `json:"loaded_models"`
	DefaultVoice string        `json:"default_voice"`
}

// speechRequest is the OpenAI audio/speech body. Model names the voice
// directory; Voice picks a speaker by number or alias.
type speechRequest struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"`
	ResponseFormat string   `json:"response_format"`
	Speed          *float32 `json:"speed"`
}

// streamRequest is the first message on the websocket stream.
type streamRequest struct {
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	SpeakerID int     `json:"sid"`
	Speaker   string  `json:"speaker"`
	Speed     float32 `json:"speed"`
}

type streamEvent struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	Error      string `json:"error,omitempty"`
}

type historyResponse struct {
	Records []history.Record `json:"records"`
}

type catalogResponse struct {
	Nodes       []catalog.NodeInfo `json:"nodes"`
	GeneratedAt time.Time          `json:"generated_at"`
}
