package risk

import (
	"strings"

	"kufar_watch/models"
)

// compoundThreshold is the number of distinct matched phrases that forces
// High regardless of which list they came from.
const compoundThreshold = 3

// Phrases is the immutable vocabulary a Classifier scans for.
type Phrases struct {
	High        []string `yaml:"high"`
	Medium      []string `yaml:"medium"`
	OffPlatform []string `yaml:"off_platform"`
}

// DefaultPhrases returns the built-in Russian-language vocabulary.
func DefaultPhrases() Phrases {
	return Phrases{
		High: []string{
			"предоплата",
			"перевод на карту",
			"не встретимся",
			"только онлайн",
			"залог денег",
			"гарантийный платеж",
		},
		Medium: []string{
			"срочная продажа",
			"торг",
			"уступлю",
			"без торга",
			"залог",
			"документы на руках",
			"продаю за другого",
		},
		OffPlatform: []string{"whatsapp", "телеграм", "viber"},
	}
}

type Classifier struct {
	high        []string
	medium      []string
	offPlatform []string
}

// NewClassifier copies and lower-cases the phrase lists so later edits to p
// have no effect.
func NewClassifier(p Phrases) *Classifier {
	return &Classifier{
		high:        lowerAll(p.High),
		medium:      lowerAll(p.Medium),
		offPlatform: lowerAll(p.OffPlatform),
	}
}

// Classify never fails. High phrases are scanned before medium ones and the
// matched list keeps that order without duplicates.
func (c *Classifier) Classify(text string) models.RiskAssessment {
	lower := strings.ToLower(text)
	level := models.RiskNone
	var matched []string
	seen := make(map[string]bool)

	record := func(phrase string) {
		if !seen[phrase] {
			seen[phrase] = true
			matched = append(matched, phrase)
		}
	}

	for _, phrase := range c.high {
		if strings.Contains(lower, phrase) {
			record(phrase)
			level = models.RiskHigh
		}
	}

	for _, phrase := range c.medium {
		if strings.Contains(lower, phrase) {
			record(phrase)
			if level < models.RiskMedium {
				level = models.RiskMedium
			}
		}
	}

	for _, token := range c.offPlatform {
		if strings.Contains(lower, token) && level < models.RiskMedium {
			level = models.RiskMedium
		}
	}

	if len(matched) >= compoundThreshold {
		level = models.RiskHigh
	}

	return models.RiskAssessment{Level: level, MatchedPhrases: matched}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
