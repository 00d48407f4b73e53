package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/model"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/spf13/cobra"
)

var (
	synthOutput    string
	synthFormat    string
	synthSpeaker   int
	synthSpeed     float32
	synthEngine    string
	synthEngineCmd string

	synthCmd = &cobra.Command{
		Use:   "synth DIR TEXT...",
		Short: "Load one model directory and write the synthesized utterance to a file",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSynth,
	}
)

func init() {
	synthCmd.Flags().StringVarP(&synthOutput, "output", "o", "", "output file (default speech.<format>)")
	synthCmd.Flags().StringVarP(&synthFormat, "format", "f", "wav", "output format: wav or pcm")
	synthCmd.Flags().IntVar(&synthSpeaker, "sid", 0, "speaker id")
	synthCmd.Flags().Float32Var(&synthSpeed, "speed", 0, "speaking rate (default from config)")
	synthCmd.Flags().StringVar(&synthEngine, "engine", "", "engine override: sherpa, exec or mock")
	synthCmd.Flags().StringVar(&synthEngineCmd, "engine-command", "", "command line for the exec engine")
}

func runSynth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if synthEngine != "" {
		cfg.Models.Engine = strings.ToLower(synthEngine)
	}
	if synthEngineCmd != "" {
		cfg.Models.Command = synthEngineCmd
	}
	format, err := audio.ParseFormat(synthFormat)
	if err != nil {
		return err
	}

	factory, err := engine.Resolve(cfg.Models.Engine, cfg.Models.Command)
	if err != nil {
		return err
	}
	log := newLogger()
	loader := tts.NewLoader(model.Options{
		NumThreads:      cfg.Models.NumThreads,
		Debug:           cfg.Models.Debug,
		Provider:        cfg.Models.Provider,
		MaxNumSentences: cfg.Models.MaxNumSentences,
	}, factory, log)

	dir := args[0]
	name := filepath.Base(filepath.Clean(dir))
	registry := tts.NewRegistry(name, loader, log)
	defer registry.Close()
	h, err := registry.LoadModel(dir, name)
	if err != nil {
		return err
	}

	synth := tts.NewSynthesizer(log,
		tts.WithDefaultSpeed(cfg.Synthesis.DefaultSpeed),
		tts.WithMaxTextLength(cfg.Synthesis.MaxTextLength))
	out, err := synth.Synthesize(cmd.Context(), h, tts.Request{
		Text:      strings.Join(args[1:], " "),
		SpeakerID: synthSpeaker,
		Speed:     synthSpeed,
		Format:    format,
	})
	if err != nil {
		return err
	}

	path := synthOutput
	if path == "" {
		path = format.FileName()
	}
	data, err := out.Encode(format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s voice %s, %d Hz, %.2fs\n",
		path, h.Family, h.Name, out.SampleRate, out.Duration().Seconds())
	return nil
}
