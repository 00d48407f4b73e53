package model

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrFileNotFound is returned when a file a family requires is missing.
var ErrFileNotFound = errors.New("required model file not found")

// MissingFileError names the missing file.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("required model file not found: %s", e.Path)
}

func (e *MissingFileError) Unwrap() error { return ErrFileNotFound }

// Configurator fills the family specific part of an EngineConfig from a model
// directory. It must leave cfg untouched when it returns an error.
type Configurator interface {
	Family() Family
	Configure(cfg *EngineConfig, dir string) error
}

// Configurators maps each family to the configurator that handles it.
type Configurators map[Family]Configurator

// NewConfigurators builds the dispatch table. A later configurator for the
// same family replaces an earlier one.
func NewConfigurators(cs ...Configurator) Configurators {
	table := make(Configurators, len(cs))
	for _, c := range cs {
		table[c.Family()] = c
	}
	return table
}

// DefaultConfigurators registers the Kokoro, Matcha and Vits configurators.
func DefaultConfigurators(log *slog.Logger) Configurators {
	return NewConfigurators(
		NewKokoroConfigurator(log),
		NewMatchaConfigurator(log),
		NewVitsConfigurator(log),
	)
}

// Lookup returns the configurator registered for f.
func (t Configurators) Lookup(f Family) (Configurator, bool) {
	c, ok := t[f]
	return c, ok
}

func requireFiles(log *slog.Logger, paths ...string) error {
	for _, p := range paths {
		if !fileExists(p) {
			log.Error("required file not found", slog.String("path", p))
			return &MissingFileError{Path: p}
		}
	}
	return nil
}
