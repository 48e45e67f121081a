package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnknownScenario is returned for a scenario name with no preset
	ErrUnknownScenario = errors.New("unknown scenario")
	// ErrInvalidLanguage is returned for a language that is not a Tesseract language code
	ErrInvalidLanguage = errors.New("invalid language")
)

// Scenario describes a kind of data to pull out of recognized page text.
// Scenarios without a pattern return every non-empty line.
type Scenario struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Languages   []string `json:"languages"`

	pattern *regexp.Regexp
}

// Field is one value a scenario found on a page
type Field struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

var scenarios = []Scenario{
	{
		Name:        "BusinessCards",
		Description: "BusinessCards (EN)",
		Languages:   []string{"eng"},
	},
	{
		Name:        "Number",
		Description: "Integer number:  12  345  6789",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`[0-9]{2,}`),
	},
	{
		Name:        "Code",
		Description: "Mix of digits with letters:  X6YZ64  32VPA  zyy777",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`([a-zA-Z]+[0-9]+|[0-9]+[a-zA-Z]+)[0-9a-zA-Z]*`),
	},
	{
		Name:        "PartID",
		Description: "Part or product id:  002A-X345-D3-BBCD  AZ-5-A34.B  001.123.AX",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`[0-9a-zA-Z]+((\.|-)[0-9a-zA-Z]+)+`),
	},
	{
		Name:        "AreaCode",
		Description: "Digits in round brackets as found in phone numbers:  (01)  (23)  (4567)",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`\([0-9]+\)`),
	},
	{
		Name:        "ChineseJapaneseDate",
		Description: "2008年8月8日",
		Languages:   []string{"chi_sim"},
		pattern:     regexp.MustCompile(`[12][0-9]{3}年\w*((0?[1-9])|(1[0-2]))月\w*(([01]?[0-9])|(3[01]))日`),
	},
	{
		Name:        "IBAN",
		Description: "International Bank Account Number (DE, ES, FR, GB)",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`(DE|ES|FR|GB)[0-9]{2}( ?[0-9A-Z]{4}){3,7}( ?[0-9A-Z]{1,3})?`),
	},
	{
		Name:        "MRZ",
		Description: "Machine Readable Zone in identity documents",
		Languages:   []string{"eng"},
		pattern:     regexp.MustCompile(`^[A-Z0-9<]{30,44}$`),
	},
}

var languageCode = regexp.MustCompile(`^[a-z]{3}(_[a-z]+)?$`)

// Scenarios returns the available presets. The first one is the default.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// ScenarioByName finds a preset by name, ignoring case. An empty name
// selects the default scenario.
func ScenarioByName(name string) (Scenario, error) {
	if name == "" {
		return scenarios[0], nil
	}
	for _, s := range scenarios {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
}

// Extract returns the fields the scenario finds in text, in reading order
func (s Scenario) Extract(text string) []Field {
	var values []string
	if s.pattern == nil {
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				values = append(values, line)
			}
		}
	} else {
		for _, line := range strings.Split(text, "\n") {
			values = append(values, s.pattern.FindAllString(strings.TrimSpace(line), -1)...)
		}
	}

	fields := make([]Field, 0, len(values))
	for _, v := range values {
		fields = append(fields, Field{Name: s.Name, Text: v})
	}
	return fields
}

// ParseLanguages splits a comma separated list of Tesseract language codes
func ParseLanguages(list string) ([]string, error) {
	var languages []string
	for _, lang := range strings.Split(list, ",") {
		lang = strings.TrimSpace(lang)
		if lang == "" {
			continue
		}
		if !languageCode.MatchString(lang) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
		}
		languages = append(languages, lang)
	}
	return languages, nil
}

// LanguageEngine is implemented by engines that can switch recognition
// languages for a single request
type LanguageEngine interface {
	RecognizeTextIn(ctx context.Context, data []byte, contentType string, languages []string) (string, error)
}

// RecognizeTextIn recognizes text in languages when eng supports it and falls
// back to its configured languages otherwise.
func RecognizeTextIn(ctx context.Context, eng Engine, data []byte, contentType string, languages []string) (string, error) {
	if le, ok := eng.(LanguageEngine); ok && len(languages) > 0 {
		return le.RecognizeTextIn(ctx, data, contentType, languages)
	}
	return eng.RecognizeText(ctx, data, contentType)
}
