package model

import (
	"os"
	"path/filepath"
	"strings"
)

// File names inside a model directory.
const (
	KokoroModelFile  = "model.onnx"
	KokoroVoicesFile = "voices.bin"
	MatchaModelFile  = "model-steps-3.onnx"
	MatchaVocoder    = "vocos-16khz-univ.onnx"
	TokensFile       = "tokens.txt"
	LexiconFile      = "lexicon.txt"
	DataDir          = "espeak-ng-data"

	modelExt       = ".onnx"
	lexiconPrefix  = "lexicon"
	lexiconExt     = ".txt"
	vocoderMarker  = "vocos"
	stepsMarker    = "model-steps"
	lexiconListSep = ","
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// listFiles returns the regular files of dir, in lexical order, accepted by
// keep. Unreadable directories yield nothing.
func listFiles(dir string, keep func(name string) bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !keep(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// findVitsModel returns the first model file in dir that is neither a vocoder
// nor a Matcha acoustic-steps model. Detect and the Vits configurator both use
// it so they agree on what a single-file model looks like.
func findVitsModel(dir string) (string, bool) {
	files := listFiles(dir, func(name string) bool {
		if !strings.EqualFold(filepath.Ext(name), modelExt) {
			return false
		}
		lower := strings.ToLower(name)
		return !strings.Contains(lower, vocoderMarker) && !strings.Contains(lower, stepsMarker)
	})
	if len(files) == 0 {
		return "", false
	}
	return files[0], true
}

func findLexicons(dir string) []string {
	return listFiles(dir, func(name string) bool {
		return strings.HasPrefix(name, lexiconPrefix) && strings.HasSuffix(name, lexiconExt)
	})
}
