package model

import "path/filepath"

// Detect classifies the files in dir. Signatures overlap between families, so
// the checks run in a fixed order and the first match wins. A missing or
// unreadable directory is Unknown.
func Detect(dir string) Family {
	if fileExists(filepath.Join(dir, KokoroModelFile)) && fileExists(filepath.Join(dir, KokoroVoicesFile)) {
		return Kokoro
	}
	if fileExists(filepath.Join(dir, MatchaModelFile)) {
		return Matcha
	}
	if _, ok := findVitsModel(dir); ok {
		return Vits
	}
	return Unknown
}
