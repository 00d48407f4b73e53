package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/catalog"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/history"
	"github.com/loqalabs/loqa-tts/internal/httpapi"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	ready   atomic.Bool
	scanned atomic.Bool
	checks  atomic.Pointer[[]func() bool]
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start listens on the configured address and serves until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve runs the service on ln. The HTTP endpoints come up first but the
// synthesis routes answer 503 until the model scan has finished. /readyz
// turns ready after the scan and, when the bus is enabled, once the bus
// service and catalog are up and healthy.
func (r *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	factory, err := engine.Resolve(r.cfg.Models.Engine, r.cfg.Models.Command)
	if err != nil {
		ln.Close()
		return fmt.Errorf("select engine: %w", err)
	}

	var store *history.Store
	synthOpts := []tts.Option{
		tts.WithCache(r.cfg.Synthesis.CacheSize),
		tts.WithDefaultSpeed(r.cfg.Synthesis.DefaultSpeed),
		tts.WithMaxTextLength(r.cfg.Synthesis.MaxTextLength),
	}
	if r.cfg.History.Enabled {
		store, err = history.Open(ctx, r.cfg.History, r.logger)
		if err != nil {
			ln.Close()
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		synthOpts = append(synthOpts, tts.WithRecorder(store))
	}

	opts := model.Options{
		NumThreads:      r.cfg.Models.NumThreads,
		Debug:           r.cfg.Models.Debug,
		Provider:        r.cfg.Models.Provider,
		MaxNumSentences: r.cfg.Models.MaxNumSentences,
	}
	registry := tts.NewRegistry(r.cfg.Models.DefaultVoice, tts.NewLoader(opts, factory, r.logger), r.logger)
	defer func() {
		if err := registry.Close(); err != nil {
			r.logger.Warn("failed to release models", slog.String("error", err.Error()))
		}
	}()
	synth := tts.NewSynthesizer(r.logger, synthOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	var catalogRef atomic.Pointer[catalog.Catalog]
	apiOpts := []httpapi.Option{
		httpapi.WithCatalog(catalogView{&catalogRef}),
		httpapi.WithLoaded(r.scanned.Load),
	}
	if store != nil {
		apiOpts = append(apiOpts, httpapi.WithHistory(store))
	}
	httpapi.New(registry, synth, r.logger, apiOpts...).Register(mux)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("runtime started", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		registry.LoadAll(r.cfg.Models.Directory)
		r.scanned.Store(true)
		if !r.cfg.Bus.Enabled {
			r.ready.Store(true)
			<-gctx.Done()
			return nil
		}
		return r.runBus(gctx, registry, synth, &catalogRef)
	})
	if store != nil {
		g.Go(func() error {
			r.pruneHistory(gctx, store)
			return nil
		})
	}

	err = g.Wait()
	r.logger.Info("runtime stopped")
	return err
}

// runBus starts the optional NATS side: embedded server, client, the
// synthesis service and the voice catalog. It blocks until ctx is done.
func (r *Runtime) runBus(ctx context.Context, registry *tts.Registry, synth *tts.Synthesizer, catalogRef *atomic.Pointer[catalog.Catalog]) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	timeout := time.Duration(busCfg.RequestTimeout) * time.Millisecond
	service := tts.NewService(ctx, client, registry, synth, timeout, r.logger)
	if err := service.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}
	defer service.Close()

	voices, err := catalog.New(ctx, r.cfg.Node, client, registry, r.logger)
	if err != nil {
		return fmt.Errorf("start voice catalog: %w", err)
	}
	catalogRef.Store(voices)
	defer func() {
		catalogRef.Store(nil)
		voices.Close()
	}()

	r.checks.Store(&[]func() bool{client.Healthy, service.Healthy, voices.Healthy})
	defer r.checks.Store(nil)

	r.ready.Store(true)
	<-ctx.Done()
	return nil
}

func (r *Runtime) pruneHistory(ctx context.Context, store *history.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				r.logger.Warn("history prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Ready reports whether the model scan is done and every bus component,
// when the bus is enabled, is healthy.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if checks := r.checks.Load(); checks != nil {
		for _, healthy := range *checks {
			if !healthy() {
				return false
			}
		}
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// catalogView lets the HTTP API read the catalog, which only exists while
// the bus is up.
type catalogView struct {
	ref *atomic.Pointer[catalog.Catalog]
}

func (v catalogView) Nodes(filter func(catalog.NodeInfo) bool) []catalog.NodeInfo {
	if c := v.ref.Load(); c != nil {
		return c.Nodes(filter)
	}
	return nil
}
