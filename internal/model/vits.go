package model

import (
	"log/slog"
	"path/filepath"
)

type VitsConfigurator struct {
	log *slog.Logger
}

func NewVitsConfigurator(log *slog.Logger) *VitsConfigurator {
	return &VitsConfigurator{log: log.With(slog.String("configurator", "vits"))}
}

func (c *VitsConfigurator) Family() Family { return Vits }

// Configure rescans dir for the single-file model instead of trusting an
// earlier detection result.
func (c *VitsConfigurator) Configure(cfg *EngineConfig, dir string) error {
	c.log.Debug("configuring model", slog.String("dir", dir))

	modelPath, ok := findVitsModel(dir)
	if !ok {
		c.log.Error("vits model file not found", slog.String("dir", dir))
		return &MissingFileError{Path: filepath.Join(dir, "*"+modelExt)}
	}

	vits := VitsConfig{
		Model:   modelPath,
		Lexicon: filepath.Join(dir, LexiconFile),
		Tokens:  filepath.Join(dir, TokensFile),
	}
	if err := requireFiles(c.log, vits.Lexicon, vits.Tokens); err != nil {
		return err
	}
	if dataDir := filepath.Join(dir, DataDir); dirExists(dataDir) {
		vits.DataDir = dataDir
	}

	cfg.Vits = vits
	return nil
}
