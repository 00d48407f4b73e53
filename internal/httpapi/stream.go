package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

const streamRequestTimeout = 10 * time.Second

// handleStream upgrades to a websocket. The client sends one JSON request;
// the server answers with a start event, binary f32le chunks and a done
// event, then closes.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	readCtx, cancel := context.WithTimeout(ctx, streamRequestTimeout)
	var body streamRequest
	err = wsjson.Read(readCtx, conn, &body)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "expected a JSON request")
		return
	}

	req := tts.Request{
		ID:        uuid.NewString(),
		Text:      body.Text,
		Voice:     body.Voice,
		SpeakerID: body.SpeakerID,
		Speed:     body.Speed,
	}
	if strings.TrimSpace(body.Speaker) != "" {
		req.SpeakerID = speakerID(body.Speaker)
	}

	h := a.registry.Resolve(req.Voice)
	stream, err := a.synth.SynthesizeStream(ctx, h, req)
	if err != nil {
		_ = wsjson.Write(ctx, conn, streamEvent{Type: "error", ID: req.ID, Error: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "request rejected")
		return
	}
	defer stream.Close()

	start := streamEvent{Type: "start", ID: stream.ID, Voice: h.Name, SampleRate: stream.SampleRate(), Encoding: protocol.EncodingF32LE}
	if err := wsjson.Write(ctx, conn, start); err != nil {
		return
	}

	chunks := 0
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			a.log.Debug("websocket write failed", slog.String("request_id", stream.ID), slog.String("error", err.Error()))
			return
		}
		chunks++
	}

	<-stream.Done()
	done := streamEvent{Type: "done", ID: stream.ID, Chunks: chunks}
	if err := stream.Err(); err != nil {
		done.Error = err.Error()
	}
	if err := wsjson.Write(ctx, conn, done); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
