package model

import (
	"log/slog"
	"path/filepath"
	"strings"
)

type KokoroConfigurator struct {
	log *slog.Logger
}

func NewKokoroConfigurator(log *slog.Logger) *KokoroConfigurator {
	return &KokoroConfigurator{log: log.With(slog.String("configurator", "kokoro"))}
}

func (c *KokoroConfigurator) Family() Family { return Kokoro }

// Configure requires the acoustic model, the voice table and the token list.
// Every lexicon*.txt in the directory is passed along; the espeak-ng data
// directory is always set and only warned about when missing.
func (c *KokoroConfigurator) Configure(cfg *EngineConfig, dir string) error {
	c.log.Debug("configuring model", slog.String("dir", dir))

	kokoro := KokoroConfig{
		Model:   filepath.Join(dir, KokoroModelFile),
		Voices:  filepath.Join(dir, KokoroVoicesFile),
		Tokens:  filepath.Join(dir, TokensFile),
		DataDir: filepath.Join(dir, DataDir),
	}
	if err := requireFiles(c.log, kokoro.Model, kokoro.Voices, kokoro.Tokens); err != nil {
		return err
	}
	if !dirExists(kokoro.DataDir) {
		c.log.Warn("directory not found", slog.String("path", kokoro.DataDir))
	}
	if lexicons := findLexicons(dir); len(lexicons) > 0 {
		kokoro.Lexicon = strings.Join(lexicons, lexiconListSep)
	}

	cfg.Kokoro = kokoro
	return nil
}
