package protocol

import "time"

// EncodingF32LE marks PCM payloads of little-endian float32 samples.
const EncodingF32LE = "f32le"

// TTSRequest asks a node to synthesize text. Voice and SpeakerID follow the
// HTTP API: an empty voice selects the node default.
type TTSRequest struct {
	SessionID string  `json:"session_id"`
	Target    string  `json:"target,omitempty"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	SpeakerID int     `json:"speaker_id,omitempty"`
	Speed     float32 `json:"speed,omitempty"`
}

// AudioChunk carries one piece of synthesized audio.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus is published once per request after the last chunk.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Voice     string    `json:"voice,omitempty"`
	Chunks    int       `json:"chunks"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"

	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
