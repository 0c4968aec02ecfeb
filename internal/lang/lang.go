// Package lang defines the languages an interpretation session can hear and speak.
package lang

import (
	"fmt"
	"strings"
)

// Language is a display name understood by the remote interpretation service.
type Language string

const (
	Korean   Language = "Korean"
	English  Language = "English"
	Japanese Language = "Japanese"
	Chinese  Language = "Chinese (Mandarin)"
)

var all = []Language{Korean, English, Japanese, Chinese}

var codes = map[Language]string{
	Korean:   "ko",
	English:  "en",
	Japanese: "ja",
	Chinese:  "zh",
}

var aliases = map[string]Language{
	"korean":             Korean,
	"ko":                 Korean,
	"kor":                Korean,
	"english":            English,
	"en":                 English,
	"eng":                English,
	"japanese":           Japanese,
	"ja":                 Japanese,
	"jp":                 Japanese,
	"chinese":            Chinese,
	"chinese (mandarin)": Chinese,
	"mandarin":           Chinese,
	"zh":                 Chinese,
	"cmn":                Chinese,
}

// All returns the supported languages in selector order.
func All() []Language {
	out := make([]Language, len(all))
	copy(out, all)
	return out
}

// Parse resolves a display name or ISO code, case-insensitively.
func Parse(s string) (Language, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if l, ok := aliases[key]; ok {
		return l, nil
	}
	return "", fmt.Errorf("unknown language %q", s)
}

// Code returns the two-letter code, or "" for an unknown value.
func (l Language) Code() string {
	return codes[l]
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	_, ok := codes[l]
	return ok
}

// Next returns the language after l in selector order, wrapping around.
func (l Language) Next() Language {
	for i, c := range all {
		if c == l {
			return all[(i+1)%len(all)]
		}
	}
	return all[0]
}

func (l Language) String() string { return string(l) }

// Pair is the source/target combination active when a segment starts.
type Pair struct {
	Source Language
	Target Language
}
