package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-tts/internal/catalog"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeModel(t *testing.T, dir string, files ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}
}

type fixture struct {
	registry *tts.Registry
	history  *history.Store
	server   *httptest.Server
}

func newFixture(t *testing.T, withModels bool) *fixture {
	t.Helper()
	log := newLogger()
	root := t.TempDir()
	if withModels {
		writeModel(t, filepath.Join(root, "kokoro-en"), model.KokoroModelFile, model.KokoroVoicesFile, model.TokensFile)
		writeModel(t, filepath.Join(root, "vits-amy"), "amy.onnx", model.LexiconFile, model.TokensFile)
	}
	registry := tts.NewRegistry("kokoro-en", tts.NewLoader(model.Options{}, engine.NewMock, log), log)
	registry.LoadAll(root)
	t.Cleanup(func() { _ = registry.Close() })

	store, err := history.Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, log)
	require.NoError(t, err)

	synth := tts.NewSynthesizer(log, tts.WithRecorder(store))
	api := New(registry, synth, log, WithHistory(store))
	mux := http.NewServeMux()
	api.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &fixture{registry: registry, history: store, server: server}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)
	resp := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "kokoro-en", body.DefaultVoice)
	require.Equal(t, []modelHealth{
		{Name: "kokoro-en", Type: "Kokoro", SampleRate: 24000, NumSpeakers: 53},
		{Name: "vits-amy", Type: "Vits", SampleRate: 22050, NumSpeakers: 1},
	}, body.LoadedModels)
}

func TestTTSReturnsWav(t *testing.T) {
	f := newFixture(t, true)
	resp := f.get(t, "/tts?text=Hello+there.+General+Kenobi.&voice=vits-amy&speed=1.5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "speech.wav")
	require.Equal(t, "22050", resp.Header.Get(SampleRateHeader))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.EqualValues(t, 22050, dec.SampleRate)
	require.NotEmpty(t, buf.Data)

	records, err := f.history.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "vits-amy", records[0].Voice)
	require.Equal(t, history.ModeBatch, records[0].Mode)
}

func TestTTSReturnsPCM(t *testing.T) {
	f := newFixture(t, true)
	resp := f.get(t, "/tts?text=Hi.&format=PCM")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/pcm", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "speech.pcm")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Zero(t, len(data)%2)
}

func TestTTSBadRequests(t *testing.T) {
	f := newFixture(t, true)
	for _, path := range []string{
		"/tts",
		"/tts?text=%20%20",
		"/tts?text=hi&sid=abc",
		"/tts?text=hi&sid=-1",
		"/tts?text=hi&speed=0",
		"/tts?text=hi&format=mp3",
	} {
		resp := f.get(t, path)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		var body errorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotEmpty(t, body.Error)
	}
}

func TestTTSWithoutModels(t *testing.T) {
	f := newFixture(t, false)
	resp := f.get(t, "/tts?text=hello")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSpeechStreamsFloatPCM(t *testing.T) {
	f := newFixture(t, true)
	body := `{"model":"kokoro-en","input":"One. Two. Three.","voice":"af_bella","response_format":"mp3","speed":1.0}`
	resp, err := http.Post(f.server.URL+"/v1/audio/speech", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/pcm", resp.Header.Get("Content-Type"))
	require.Equal(t, "24000", resp.Header.Get(SampleRateHeader))
	require.Empty(t, resp.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Zero(t, len(data)%4)
}

func TestSpeechUnknownModelUsesDefault(t *testing.T) {
	f := newFixture(t, true)
	resp, err := http.Post(f.server.URL+"/v1/audio/speech", "application/json", strings.NewReader(`{"model":"tts-1","input":"Hi."}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "24000", resp.Header.Get(SampleRateHeader))
}

func TestSpeechBadRequests(t *testing.T) {
	f := newFixture(t, true)
	for _, body := range []string{`not json`, `{"input":"  "}`, `{"input":"hi","speed":-1}`} {
		resp, err := http.Post(f.server.URL+"/v1/audio/speech", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestSpeakerID(t *testing.T) {
	cases := map[string]int{
		"":          0,
		"7":         7,
		"af_bella":  2,
		"AF_Nicole": 11,
		"am_adam":   30,
		"shimmer":   2,
		"onyx":      33,
		"nova":      1,
		"unknown":   0,
	}
	for voice, want := range cases {
		require.Equal(t, want, speakerID(voice), voice)
	}
}

func TestWebsocketStream(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/audio/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, streamRequest{Text: "First. Second.", Voice: "vits-amy"}))

	var start streamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &start))
	require.Equal(t, "start", start.Type)
	require.Equal(t, "vits-amy", start.Voice)
	require.Equal(t, 22050, start.SampleRate)
	require.Equal(t, "f32le", start.Encoding)

	binary := 0
	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		if typ == websocket.MessageBinary {
			require.Zero(t, len(data)%4)
			binary++
			continue
		}
		var done streamEvent
		require.NoError(t, json.Unmarshal(data, &done))
		require.Equal(t, "done", done.Type)
		require.Equal(t, 2, done.Chunks)
		require.Empty(t, done.Error)
		break
	}
	require.Equal(t, 2, binary)
}

func TestWebsocketRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/audio/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, streamRequest{Text: ""}))
	var event streamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	require.Equal(t, "error", event.Type)
	require.Contains(t, event.Error, "text is empty")
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.get(t, "/tts?text=Hello.")
	f.get(t, "/tts?text=Again.&voice=vits-amy")

	resp := f.get(t, "/v1/history?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 1)
	require.Equal(t, "vits-amy", body.Records[0].Voice)

	resp = f.get(t, "/v1/history?limit=x")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogDisabled(t *testing.T) {
	f := newFixture(t, true)
	resp := f.get(t, "/v1/catalog")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type staticNodes []catalog.NodeInfo

func (s staticNodes) Nodes(filter func(catalog.NodeInfo) bool) []catalog.NodeInfo {
	var out []catalog.NodeInfo
	for _, n := range s {
		if filter == nil || filter(n) {
			out = append(out, n)
		}
	}
	return out
}

func voiceNode(id, tier string, healthy bool, voices ...string) catalog.NodeInfo {
	node := catalog.NodeInfo{ID: id, Role: "tts", Healthy: healthy}
	for _, v := range voices {
		node.Capabilities = append(node.Capabilities, catalog.Capability{
			Name:       catalog.CapabilityVoice,
			Tier:       tier,
			Attributes: map[string]string{"voice": v},
		})
	}
	return node
}

func newServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	log := newLogger()
	root := t.TempDir()
	writeModel(t, filepath.Join(root, "kokoro-en"), model.KokoroModelFile, model.KokoroVoicesFile, model.TokensFile)
	registry := tts.NewRegistry("kokoro-en", tts.NewLoader(model.Options{}, engine.NewMock, log), log)
	registry.LoadAll(root)
	t.Cleanup(func() { _ = registry.Close() })

	mux := http.NewServeMux()
	New(registry, tts.NewSynthesizer(log), log, opts...).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestCatalogFilters(t *testing.T) {
	nodes := staticNodes{
		voiceNode("node-a", "balanced", true, "kokoro-en"),
		voiceNode("node-b", "fast", true, "vits-amy"),
		voiceNode("node-c", "balanced", false, "kokoro-en"),
	}
	server := newServer(t, WithCatalog(nodes))

	list := func(query string) []string {
		resp, err := http.Get(server.URL + "/v1/catalog" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body catalogResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		ids := []string{}
		for _, n := range body.Nodes {
			ids = append(ids, n.ID)
		}
		return ids
	}

	require.Equal(t, []string{"node-a", "node-b", "node-c"}, list(""))
	require.Equal(t, []string{"node-a"}, list("?voice=kokoro-en"))
	require.Equal(t, []string{"node-a", "node-c"}, list("?tier=balanced"))
	require.Equal(t, []string{}, list("?voice=vits-amy&tier=balanced"))
}

func TestSynthesisRoutesWaitForLoaded(t *testing.T) {
	var loaded atomic.Bool
	server := newServer(t, WithLoaded(loaded.Load))

	resp, err := http.Get(server.URL + "/tts?text=Hello.")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("Retry-After"))

	resp, err = http.Post(server.URL+"/v1/audio/speech", "application/json", strings.NewReader(`{"input":"Hello."}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	loaded.Store(true)
	resp, err = http.Get(server.URL + "/tts?text=Hello.")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
