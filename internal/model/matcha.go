package model

import (
	"log/slog"
	"path/filepath"
)

type MatchaConfigurator struct {
	log *slog.Logger
}

func NewMatchaConfigurator(log *slog.Logger) *MatchaConfigurator {
	return &MatchaConfigurator{log: log.With(slog.String("configurator", "matcha"))}
}

func (c *MatchaConfigurator) Family() Family { return Matcha }

// Configure requires the acoustic model, vocoder, lexicon and tokens. The data
// directory is set without checking it.
func (c *MatchaConfigurator) Configure(cfg *EngineConfig, dir string) error {
	c.log.Debug("configuring model", slog.String("dir", dir))

	matcha := MatchaConfig{
		AcousticModel: filepath.Join(dir, MatchaModelFile),
		Vocoder:       filepath.Join(dir, MatchaVocoder),
		Lexicon:       filepath.Join(dir, LexiconFile),
		Tokens:        filepath.Join(dir, TokensFile),
		DataDir:       filepath.Join(dir, DataDir),
	}
	if err := requireFiles(c.log, matcha.AcousticModel, matcha.Vocoder, matcha.Lexicon, matcha.Tokens); err != nil {
		return err
	}

	cfg.Matcha = matcha
	return nil
}
