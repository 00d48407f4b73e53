package model

// Options are the engine settings shared by every model.
type Options struct {
	NumThreads      int
	Debug           bool
	Provider        string
	MaxNumSentences int
}

// EngineConfig is everything an engine needs to load one model directory.
// Exactly one of the family sections is filled.
type EngineConfig struct {
	Name            string
	Dir             string
	Family          Family
	NumThreads      int
	Debug           bool
	Provider        string
	MaxNumSentences int

	Kokoro KokoroConfig
	Matcha MatchaConfig
	Vits   VitsConfig
}

type KokoroConfig struct {
	Model   string
	Voices  string
	Tokens  string
	Lexicon string // comma separated
	DataDir string
}

type MatchaConfig struct {
	AcousticModel string
	Vocoder       string
	Lexicon       string
	Tokens        string
	DataDir       string
}

type VitsConfig struct {
	Model   string
	Lexicon string
	Tokens  string
	DataDir string
}

// BaseConfig returns an EngineConfig carrying only the shared settings.
func (o Options) BaseConfig() EngineConfig {
	maxSentences := o.MaxNumSentences
	if maxSentences <= 0 {
		maxSentences = 1
	}
	threads := o.NumThreads
	if threads <= 0 {
		threads = 1
	}
	return EngineConfig{
		NumThreads:      threads,
		Debug:           o.Debug,
		Provider:        o.Provider,
		MaxNumSentences: maxSentences,
	}
}
