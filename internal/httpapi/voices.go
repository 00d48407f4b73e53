package httpapi

import (
	"strconv"
	"strings"
)

// kokoroSpeakers maps Kokoro v1.0 speaker names, and the OpenAI voice names
// they stand in for, to speaker ids.
var kokoroSpeakers = map[string]int{
	"af_alloy":   0,
	"af_aoede":   1,
	"af_bella":   2,
	"af_jessica": 3,
	"af_kore":    4,
	"af_nicole":  11,
	"af_sky":     21,
	"am_adam":    30,
	"am_michael": 33,

	"alloy":   0,
	"echo":    30,
	"fable":   33,
	"onyx":    33,
	"nova":    1,
	"shimmer": 2,
}

// speakerID parses voice as an integer id, then as a speaker alias. Anything
// else selects speaker 0.
func speakerID(voice string) int {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return 0
	}
	if id, err := strconv.Atoi(voice); err == nil {
		return id
	}
	if id, ok := kokoroSpeakers[strings.ToLower(voice)]; ok {
		return id
	}
	return 0
}
