package tts

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/model"
)

// Loader turns one model directory into a Handle: detect the family,
// configure it, then construct the engine.
type Loader struct {
	Options       model.Options
	Configurators model.Configurators
	Factory       engine.Factory
	Log           *slog.Logger
}

// NewLoader builds a loader with the default configurator table.
func NewLoader(opts model.Options, factory engine.Factory, log *slog.Logger) *Loader {
	return &Loader{
		Options:       opts,
		Configurators: model.DefaultConfigurators(log),
		Factory:       factory,
		Log:           log.With(slog.String("component", "model-loader")),
	}
}

// Load never panics. Errors wrap model.ErrFileNotFound,
// ErrUnsupportedStructure, ErrNoConfigurator or ErrEngineFailure.
func (l *Loader) Load(dir, name string) (h *Handle, err error) {
	defer func() {
		if p := recover(); p != nil {
			h, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrEngineFailure, name, p)
		}
	}()

	family := model.Detect(dir)
	if family == model.Unknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStructure, dir)
	}
	configurator, ok := l.Configurators.Lookup(family)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConfigurator, family)
	}

	cfg := l.Options.BaseConfig()
	cfg.Name, cfg.Dir, cfg.Family = name, dir, family
	if err := configurator.Configure(&cfg, dir); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	if l.Factory == nil {
		return nil, fmt.Errorf("%w: %s: no engine factory", ErrEngineFailure, name)
	}
	e, err := l.Factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEngineFailure, name, err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s: engine is nil", ErrEngineFailure, name)
	}
	return NewHandle(name, dir, family, e), nil
}

// logLoadError picks the level for a failed directory: an unrecognised
// layout is a warning, everything else an error.
func logLoadError(log *slog.Logger, dir, name string, err error) {
	attrs := []any{slog.String("dir", dir), slog.String("model", name), slog.String("error", err.Error())}
	if errors.Is(err, ErrUnsupportedStructure) {
		log.Warn("unsupported model structure, skipping", attrs...)
		return
	}
	log.Error("failed to load model", attrs...)
}
