package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

const maxSpeechBody = 1 << 20

// handleTTS renders the whole utterance and returns it as a download.
func (a *API) handleTTS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "'text' parameter is required and cannot be empty")
		return
	}
	format, err := audio.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := tts.Request{ID: uuid.NewString(), Text: text, Voice: q.Get("voice"), Format: format}
	if v := q.Get("sid"); v != "" {
		sid, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "'sid' must be an integer")
			return
		}
		req.SpeakerID = sid
	}
	if v := q.Get("speed"); v != "" {
		speed, err := strconv.ParseFloat(v, 32)
		if err != nil || speed <= 0 {
			writeError(w, http.StatusBadRequest, "'speed' must be a positive number")
			return
		}
		req.Speed = float32(speed)
	}

	h := a.registry.Resolve(req.Voice)
	out, err := a.synth.Synthesize(r.Context(), h, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	body, err := out.Encode(format)
	if err != nil {
		a.log.Error("failed to encode audio", slog.String("request_id", req.ID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to encode audio")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.FileName()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(SampleRateHeader, strconv.Itoa(out.SampleRate))
	w.Header().Set("X-Request-Id", req.ID)
	if _, err := w.Write(body); err != nil {
		a.log.Debug("client went away", slog.String("request_id", req.ID), slog.String("error", err.Error()))
	}
}

// handleSpeech streams raw float32 PCM as the engine produces it. The
// requested response_format is ignored.
func (a *API) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var body speechRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSpeechBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Input) == "" {
		writeError(w, http.StatusBadRequest, "input must be a non-empty string")
		return
	}
	req := tts.Request{
		ID:        uuid.NewString(),
		Text:      body.Input,
		Voice:     body.Model,
		SpeakerID: speakerID(body.Voice),
		Format:    audio.FormatPCM,
	}
	if body.Speed != nil {
		req.Speed = *body.Speed
	}

	h := a.registry.Resolve(req.Voice)
	stream, err := a.synth.SynthesizeStream(r.Context(), h, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", audio.ContentTypePCM)
	w.Header().Set(SampleRateHeader, strconv.Itoa(stream.SampleRate()))
	w.Header().Set("X-Request-Id", stream.ID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		chunk, err := stream.Next(r.Context())
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			a.log.Debug("speech stream cancelled", slog.String("request_id", stream.ID), slog.String("error", err.Error()))
			return
		}
		if _, err := w.Write(chunk); err != nil {
			a.log.Debug("client went away", slog.String("request_id", stream.ID), slog.String("error", err.Error()))
			return
		}
		if err := rc.Flush(); err != nil {
			a.log.Debug("flush failed", slog.String("request_id", stream.ID), slog.String("error", err.Error()))
			return
		}
	}
}
