package language

import (
	"errors"
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUnknown reports a code that is not a recognizable language.
var ErrUnknown = errors.New("unknown language")

// Word forms accepted in addition to BCP 47 / ISO 639 codes.
var wordForms = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Normalize canonicalizes a target language code. The result is the ISO 639-1
// code when one exists (ISO 639-3 otherwise), with an explicit region kept
// ("pt-BR"). English word forms such as "french" are accepted.
func Normalize(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty code", ErrUnknown)
	}
	if mapped, ok := wordForms[trimmed]; ok {
		return mapped, nil
	}
	tag, err := xlanguage.Parse(strings.ReplaceAll(trimmed, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknown, code)
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No || base.String() == "und" {
		return "", fmt.Errorf("%w: %q", ErrUnknown, code)
	}
	if region, conf := tag.Region(); conf == xlanguage.Exact {
		return base.String() + "-" + region.String(), nil
	}
	return base.String(), nil
}

// NormalizeList normalizes and de-duplicates codes, preserving first-seen
// order. The first unrecognized code aborts with ErrUnknown.
func NormalizeList(codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	normalized := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		value, err := Normalize(code)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized, nil
}

// ToISO3 converts a code to ISO 639-2/3 for container metadata.
// Returns "und" for unrecognized input.
func ToISO3(code string) string {
	value, err := Normalize(code)
	if err != nil {
		return "und"
	}
	base, _ := xlanguage.MustParse(value).Base()
	return base.ISO3()
}

// DisplayName returns the English name for a code, e.g. "French" or
// "Brazilian Portuguese". Returns "Unknown" for empty input and the uppercased
// code when it cannot be parsed.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	value, err := Normalize(code)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	if name := display.English.Tags().Name(xlanguage.MustParse(value)); name != "" {
		return name
	}
	return strings.ToUpper(value)
}
