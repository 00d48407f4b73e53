package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureHandler keeps every record so tests can assert on log output.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

type fakeEngine struct {
	rate     int
	speakers int
	chunks   [][]float32
	// failAt is the chunk index at which streaming fails; -1 never fails.
	failAt   int
	panicMsg string
	genErr   error
	calls    atomic.Int32
	closed   atomic.Bool
}

func newFakeEngine(chunks ...[]float32) *fakeEngine {
	return &fakeEngine{rate: 24000, speakers: 1, chunks: chunks, failAt: -1}
}

func (f *fakeEngine) SampleRate() int  { return f.rate }
func (f *fakeEngine) NumSpeakers() int { return f.speakers }

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeEngine) Generate(text string, speakerID int, speed float32) (engine.Generated, error) {
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.genErr != nil {
		return engine.Generated{}, f.genErr
	}
	var samples []float32
	for _, c := range f.chunks {
		samples = append(samples, c...)
	}
	return engine.Generated{SampleRate: f.rate, Samples: samples}, nil
}

func (f *fakeEngine) GenerateStreaming(text string, speed float32, speakerID int, cb engine.Callback) error {
	f.calls.Add(1)
	for i, c := range f.chunks {
		if i == f.failAt {
			if f.panicMsg != "" {
				panic(f.panicMsg)
			}
			return errors.New("onnx runtime error")
		}
		if !cb(c) {
			return nil
		}
	}
	return nil
}

// fakeFactory hands out engines by model name and records what it was asked
// to build.
type fakeFactory struct {
	mu      sync.Mutex
	engines map[string]*fakeEngine
	fail    map[string]error
	panics  map[string]bool
	configs []model.EngineConfig
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{engines: map[string]*fakeEngine{}, fail: map[string]error{}, panics: map[string]bool{}}
}

func (f *fakeFactory) build(cfg model.EngineConfig) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.panics[cfg.Name] {
		panic("native loader crashed")
	}
	if err := f.fail[cfg.Name]; err != nil {
		return nil, err
	}
	e, ok := f.engines[cfg.Name]
	if !ok {
		e = newFakeEngine([]float32{0.1, 0.2})
		f.engines[cfg.Name] = e
	}
	return e, nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func kokoroDir(t *testing.T, root, name string) {
	writeFiles(t, filepath.Join(root, name), model.KokoroModelFile, model.KokoroVoicesFile, model.TokensFile)
}

func vitsDir(t *testing.T, root, name string) {
	writeFiles(t, filepath.Join(root, name), "en_US-amy.onnx", model.LexiconFile, model.TokensFile)
}

func matchaDir(t *testing.T, root, name string) {
	writeFiles(t, filepath.Join(root, name), model.MatchaModelFile, model.MatchaVocoder, model.LexiconFile, model.TokensFile)
}

func newTestRegistry(defaultVoice string, factory *fakeFactory, log *slog.Logger) *Registry {
	loader := NewLoader(model.Options{NumThreads: 2}, factory.build, log)
	return NewRegistry(defaultVoice, loader, log)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memoryRecorder) Append(_ context.Context, rec history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecorder) all() []history.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Record(nil), m.records...)
}
