// Package model recognizes voice model directories and turns them into engine
// configurations.
package model

// Family is the architecture family of a voice model directory.
type Family int

const (
	Unknown Family = iota
	Kokoro
	Matcha
	Vits
)

func (f Family) String() string {
	switch f {
	case Kokoro:
		return "Kokoro"
	case Matcha:
		return "Matcha"
	case Vits:
		return "Vits"
	default:
		return "Unknown"
	}
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}
