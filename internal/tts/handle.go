package tts

import (
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/model"
)

// Handle is one loaded voice model. It owns its engine; generation calls on
// the same handle run one at a time.
type Handle struct {
	Name   string
	Dir    string
	Family model.Family

	mu     sync.Mutex
	engine engine.Engine
}

func NewHandle(name, dir string, family model.Family, e engine.Engine) *Handle {
	return &Handle{Name: name, Dir: dir, Family: family, engine: e}
}

func (h *Handle) SampleRate() int  { return h.engine.SampleRate() }
func (h *Handle) NumSpeakers() int { return h.engine.NumSpeakers() }

func (h *Handle) generate(text string, speakerID int, speed float32) (gen engine.Generated, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return h.engine.Generate(text, speakerID, speed)
}

func (h *Handle) generateStreaming(text string, speed float32, speakerID int, cb engine.Callback) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return h.engine.GenerateStreaming(text, speed, speakerID, cb)
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Close()
}
