// Package httpapi serves the synthesis endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-tts/internal/catalog"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

const SampleRateHeader = "X-Sherpa-Sample-Rate"

// HistoryReader lists past synthesis calls.
type HistoryReader interface {
	Recent(ctx context.Context, voice string, limit int) ([]history.Record, error)
}

// NodeLister lists the nodes known to the voice catalog.
type NodeLister interface {
	Nodes(filter func(catalog.NodeInfo) bool) []catalog.NodeInfo
}

type API struct {
	registry *tts.Registry
	synth    *tts.Synthesizer
	history  HistoryReader
	catalog  NodeLister
	loaded   func() bool
	log      *slog.Logger
}

type Option func(*API)

func WithHistory(h HistoryReader) Option { return func(a *API) { a.history = h } }
func WithCatalog(c NodeLister) Option    { return func(a *API) { a.catalog = c } }

// WithLoaded holds synthesis requests back with 503 until loaded reports true.
func WithLoaded(loaded func() bool) Option { return func(a *API) { a.loaded = loaded } }

func New(registry *tts.Registry, synth *tts.Synthesizer, log *slog.Logger, opts ...Option) *API {
	a := &API{
		registry: registry,
		synth:    synth,
		log:      log.With(slog.String("component", "http-api")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts every endpoint on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /tts", a.whenLoaded(a.handleTTS))
	mux.HandleFunc("POST /v1/audio/speech", a.whenLoaded(a.handleSpeech))
	mux.HandleFunc("GET /v1/audio/stream", a.whenLoaded(a.handleStream))
	mux.HandleFunc("GET /v1/history", a.handleHistory)
	mux.HandleFunc("GET /v1/catalog", a.handleCatalog)
}

func (a *API) whenLoaded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.loaded != nil && !a.loaded() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "models are still loading")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tts.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, tts.ErrNoModel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
