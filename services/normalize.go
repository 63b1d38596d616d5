package services

import (
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"
)

const (
	maxScenarioLen = 8
	maxUsernameLen = 64
	anonymousName  = "anon"
)

// NormalizeScenario turns a free-form scenario tag into a short slug so that
// "Forest" and "forest" pair together. Empty stays empty (wildcard).
// A tag with nothing slug can keep ("#", "??") is used as given, so it never
// turns into a wildcard.
func NormalizeScenario(raw string) string {
	raw = strings.TrimSpace(raw)
	s := slug.Make(raw)
	if s == "" && raw != "" {
		if utf8.RuneCountInString(raw) > maxScenarioLen {
			raw = string([]rune(raw)[:maxScenarioLen])
		}
		return raw
	}
	if len(s) > maxScenarioLen {
		s = strings.TrimRight(s[:maxScenarioLen], "-")
	}
	return s
}

func NormalizeUsername(raw string) string {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return anonymousName
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		name = string([]rune(name)[:maxUsernameLen])
	}
	return name
}
