package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/mattn/go-shellwords"
)

// ExecName is the factory name of the sidecar engine.
const ExecName = "exec"

const maxLineSize = 16 << 20

// execEngine runs an external command once per call. The command reads one
// JSON request on stdin and answers with JSON lines on stdout.
type execEngine struct {
	cmd         []string
	model       execModel
	sampleRate  int
	numSpeakers int
}

type execModel struct {
	Name            string            `json:"name"`
	Dir             string            `json:"dir"`
	Family          string            `json:"family"`
	NumThreads      int               `json:"num_threads"`
	Debug           bool              `json:"debug"`
	Provider        string            `json:"provider,omitempty"`
	MaxNumSentences int               `json:"max_num_sentences"`
	Files           map[string]string `json:"files"`
}

type execRequest struct {
	Op        string    `json:"op"`
	Text      string    `json:"text,omitempty"`
	SpeakerID int       `json:"speaker_id"`
	Speed     float32   `json:"speed,omitempty"`
	Model     execModel `json:"model"`
}

type execResponse struct {
	SampleRate  int    `json:"sample_rate"`
	NumSpeakers int    `json:"num_speakers"`
	Samples     string `json:"samples"`
	Final       bool   `json:"final"`
	Error       string `json:"error"`
}

// NewExecFactory parses command with shell quoting rules and returns a
// factory that starts it for every model.
func NewExecFactory(command string) (Factory, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("engine command empty")
	}
	return func(cfg model.EngineConfig) (Engine, error) {
		e := &execEngine{cmd: args, model: newExecModel(cfg)}
		if err := e.info(); err != nil {
			return nil, err
		}
		return e, nil
	}, nil
}

// Resolve returns the factory for name. The exec engine is built from
// command; every other name comes from the registered table.
func Resolve(name, command string) (Factory, error) {
	if name == ExecName {
		return NewExecFactory(command)
	}
	return Lookup(name)
}

func newExecModel(cfg model.EngineConfig) execModel {
	files := map[string]string{}
	add := func(key, value string) {
		if value != "" {
			files[key] = value
		}
	}
	switch cfg.Family {
	case model.Kokoro:
		add("model", cfg.Kokoro.Model)
		add("voices", cfg.Kokoro.Voices)
		add("tokens", cfg.Kokoro.Tokens)
		add("lexicon", cfg.Kokoro.Lexicon)
		add("data_dir", cfg.Kokoro.DataDir)
	case model.Matcha:
		add("acoustic_model", cfg.Matcha.AcousticModel)
		add("vocoder", cfg.Matcha.Vocoder)
		add("tokens", cfg.Matcha.Tokens)
		add("lexicon", cfg.Matcha.Lexicon)
		add("data_dir", cfg.Matcha.DataDir)
	case model.Vits:
		add("model", cfg.Vits.Model)
		add("tokens", cfg.Vits.Tokens)
		add("lexicon", cfg.Vits.Lexicon)
		add("data_dir", cfg.Vits.DataDir)
	}
	return execModel{
		Name:            cfg.Name,
		Dir:             cfg.Dir,
		Family:          cfg.Family.String(),
		NumThreads:      cfg.NumThreads,
		Debug:           cfg.Debug,
		Provider:        cfg.Provider,
		MaxNumSentences: cfg.MaxNumSentences,
		Files:           files,
	}
}

func (e *execEngine) SampleRate() int  { return e.sampleRate }
func (e *execEngine) NumSpeakers() int { return e.numSpeakers }
func (e *execEngine) Close() error     { return nil }

func (e *execEngine) info() error {
	var resp execResponse
	err := e.run(execRequest{Op: "info", Model: e.model}, func(r execResponse) (bool, error) {
		resp = r
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("engine info: %w", err)
	}
	if resp.SampleRate <= 0 {
		return fmt.Errorf("engine info: invalid sample rate %d", resp.SampleRate)
	}
	e.sampleRate = resp.SampleRate
	e.numSpeakers = max(resp.NumSpeakers, 1)
	return nil
}

func (e *execEngine) Generate(text string, speakerID int, speed float32) (Generated, error) {
	var samples []float32
	err := e.GenerateStreaming(text, speed, speakerID, func(chunk []float32) bool {
		samples = append(samples, chunk...)
		return true
	})
	if err != nil {
		return Generated{}, err
	}
	return Generated{SampleRate: e.sampleRate, Samples: samples}, nil
}

func (e *execEngine) GenerateStreaming(text string, speed float32, speakerID int, cb Callback) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	req := execRequest{Op: "generate", Text: text, SpeakerID: speakerID, Speed: speed, Model: e.model}
	return e.run(req, func(resp execResponse) (bool, error) {
		if resp.Samples != "" {
			raw, err := base64.StdEncoding.DecodeString(resp.Samples)
			if err != nil {
				return false, fmt.Errorf("decode samples: %w", err)
			}
			samples, err := audio.ParseFloat32LE(raw)
			if err != nil {
				return false, err
			}
			if !cb(samples) {
				return false, nil
			}
		}
		return !resp.Final, nil
	})
}

// run starts the command, writes req and hands each response line to handle
// until it returns false. The process is killed when reading stops early.
func (e *execEngine) run(req execRequest, handle func(execResponse) (bool, error)) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	stopped := false
	var handleErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			handleErr = fmt.Errorf("decode engine response: %w", err)
			break
		}
		if resp.Error != "" {
			handleErr = fmt.Errorf("engine: %s", resp.Error)
			break
		}
		more, err := handle(resp)
		if err != nil {
			handleErr = err
			break
		}
		if !more {
			stopped = true
			break
		}
	}
	if err := scanner.Err(); err != nil && handleErr == nil {
		handleErr = fmt.Errorf("read engine output: %w", err)
	}
	if handleErr != nil || stopped {
		cancel()
		_ = cmd.Wait()
		return handleErr
	}
	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("engine exited: %w: %s", err, msg)
		}
		return fmt.Errorf("engine exited: %w", err)
	}
	return nil
}
