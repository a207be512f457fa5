package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// CanonicalLanguageTag normalizes a client-supplied language identifier to a
// short canonical tag ("en", "ko", "zh"). Natural-language names and region
// variants never reach persisted state. DefaultLanguage passes through.
func CanonicalLanguageTag(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrLanguageRequired
	}
	if s == DefaultLanguage {
		return DefaultLanguage, nil
	}

	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", s, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}
