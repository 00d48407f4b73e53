package tts

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the loaded voices keyed by lower-cased name. When it is not
// empty the default voice always names a loaded model.
type Registry struct {
	log    *slog.Logger
	loader *Loader

	mu           sync.RWMutex
	handles      map[string]*Handle
	order        []*Handle
	defaultVoice string
}

func NewRegistry(defaultVoice string, loader *Loader, log *slog.Logger) *Registry {
	r := &Registry{
		log:          log.With(slog.String("component", "model-registry")),
		loader:       loader,
		handles:      make(map[string]*Handle),
		defaultVoice: defaultVoice,
	}
	if err := r.initMetrics(otel.Meter(meterName)); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// LoadAll scans the immediate subdirectories of root in lexical order and
// loads every one it can. Failures are logged and skipped; the return value
// is the number of models now loaded.
func (r *Registry) LoadAll(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		r.log.Warn("models directory not found", slog.String("dir", root), slog.String("error", err.Error()))
		return 0
	}
	r.log.Info("scanning models directory", slog.String("dir", root))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "" {
			continue
		}
		dir := filepath.Join(root, name)
		h, err := r.loader.Load(dir, name)
		if err != nil {
			logLoadError(r.log, dir, name, err)
			continue
		}
		r.insert(h)
		r.log.Info("model loaded",
			slog.String("model", h.Name),
			slog.String("type", h.Family.String()),
			slog.Int("sample_rate", h.SampleRate()),
			slog.Int("num_speakers", h.NumSpeakers()))
	}

	r.ensureDefault()
	r.logSummary()
	return r.Len()
}

// LoadModel loads a single directory and adds it to the registry.
func (r *Registry) LoadModel(dir, name string) (*Handle, error) {
	if name == "" {
		name = filepath.Base(dir)
	}
	h, err := r.loader.Load(dir, name)
	if err != nil {
		logLoadError(r.log, dir, name, err)
		return nil, err
	}
	r.insert(h)
	r.ensureDefault()
	return h, nil
}

func (r *Registry) insert(h *Handle) {
	key := strings.ToLower(h.Name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.handles[key]; ok {
		for i, existing := range r.order {
			if existing == old {
				r.order[i] = h
				break
			}
		}
		r.log.Warn("model replaced", slog.String("model", h.Name), slog.String("previous_dir", old.Dir))
		if err := old.close(); err != nil {
			r.log.Warn("failed to close replaced model", slog.String("model", old.Name), slog.String("error", err.Error()))
		}
	} else {
		r.order = append(r.order, h)
	}
	r.handles[key] = h
}

func (r *Registry) ensureDefault() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		r.log.Warn("no models loaded", slog.String("default_voice", r.defaultVoice))
		return
	}
	if _, ok := r.handles[strings.ToLower(r.defaultVoice)]; ok {
		return
	}
	previous := r.defaultVoice
	r.defaultVoice = r.order[0].Name
	r.log.Info("default voice not loaded, using first loaded model",
		slog.String("configured", previous),
		slog.String("default_voice", r.defaultVoice))
}

func (r *Registry) logSummary() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, h := range r.order {
		names = append(names, h.Name)
	}
	r.log.Info("models ready",
		slog.Int("count", len(names)),
		slog.String("models", strings.Join(names, ", ")),
		slog.String("default_voice", r.defaultVoice))
}

// Resolve returns the handle for name. An empty or unknown name falls back to
// the default voice; nil means nothing is loaded.
func (r *Registry) Resolve(name string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if h, ok := r.handles[strings.ToLower(name)]; ok {
			return h
		}
		r.log.Warn("voice not found, using default",
			slog.String("voice", name),
			slog.String("default_voice", r.defaultVoice))
	}
	return r.handles[strings.ToLower(r.defaultVoice)]
}

// Lookup is Resolve without the fallback.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[strings.ToLower(name)]
	return h, ok
}

func (r *Registry) DefaultVoice() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultVoice
}

// List returns the handles in load order.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Handle(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close releases every engine. The registry is empty afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, h := range r.order {
		if err := h.close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.order = nil
	r.handles = make(map[string]*Handle)
	return errors.Join(errs...)
}

func (r *Registry) initMetrics(meter metric.Meter) error {
	gauge, err := meter.Int64ObservableGauge("loqa.tts.models.loaded", metric.WithDescription("Number of loaded voice models"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(r.Len()))
		return nil
	}, gauge)
	return err
}
