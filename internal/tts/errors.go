package tts

import "errors"

var (
	// ErrUnsupportedStructure means a directory matches no known family.
	ErrUnsupportedStructure = errors.New("unsupported model structure")
	// ErrNoConfigurator means a family was detected but nothing configures it.
	ErrNoConfigurator = errors.New("no configurator registered for model family")
	// ErrEngineFailure wraps engine construction failures and panics.
	ErrEngineFailure = errors.New("engine failed to load model")
	// ErrSynthesisFailed is returned for any generation failure. The engine
	// error itself is only logged.
	ErrSynthesisFailed = errors.New("synthesis failed")
	ErrNoModel         = errors.New("no model loaded")
	ErrInvalidRequest  = errors.New("invalid request")
)
