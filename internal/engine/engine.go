// Package engine defines the inference engine capability used by the synthesis
// pipeline and keeps the table of engine implementations.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-tts/internal/model"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrEmptyText     = errors.New("text is empty")
)

// Generated is the output of a blocking generate call.
type Generated struct {
	SampleRate int
	Samples    []float32
}

// Callback receives one chunk of samples as the engine produces it. The slice
// is only valid during the call. Returning false asks the engine to stop.
type Callback func(samples []float32) bool

// Engine is one loaded model instance.
type Engine interface {
	SampleRate() int
	NumSpeakers() int
	Generate(text string, speakerID int, speed float32) (Generated, error)
	// GenerateStreaming blocks until generation ends, invoking cb once per
	// chunk in production order.
	GenerateStreaming(text string, speed float32, speakerID int, cb Callback) error
	Close() error
}

// Factory loads an engine from a configured model directory.
type Factory func(cfg model.EngineConfig) (Engine, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a named factory. Registering a name twice replaces the first.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists registered factories in lexical order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
