package plant

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const healthyToken = "healthy"

// Diagnosis is the structured form of a raw class label.
type Diagnosis struct {
	PlantType string `json:"plantType"`
	Condition string `json:"condition"`
	IsHealthy bool   `json:"isHealthy"`
}

// PrefixRule maps a multi-word species prefix to the plant type reported for it.
// The whole prefix is skipped before the condition is read.
type PrefixRule struct {
	Prefix    string
	PlantType string
}

// DefaultRules returns the multi-word species table in priority order.
func DefaultRules() []PrefixRule {
	return []PrefixRule{
		{Prefix: "corn maize", PlantType: "corn maize"},
		{Prefix: "cherry including sour", PlantType: "cherry"},
		{Prefix: "pepper bell", PlantType: "pepper bell"},
	}
}

type Parser struct {
	rules []PrefixRule
}

// NewParser builds a parser from an ordered rule list. With no rules it falls
// back to DefaultRules.
func NewParser(rules ...PrefixRule) *Parser {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	owned := make([]PrefixRule, len(rules))
	copy(owned, rules)
	return &Parser{rules: owned}
}

var defaultParser = NewParser()

// ParseLabel parses a label with the default rule table.
func ParseLabel(label string) Diagnosis {
	return defaultParser.Parse(label)
}

func (p *Parser) Parse(label string) Diagnosis {
	label = strings.TrimSpace(label)

	if strings.Contains(strings.ToLower(label), healthyToken) {
		plantType := strings.ReplaceAll(strings.ToLower(label), healthyToken, "")
		return Diagnosis{
			PlantType: Capitalize(strings.TrimSpace(plantType)),
			Condition: "Healthy",
			IsHealthy: true,
		}
	}

	plantType, condition := p.split(label)
	return Diagnosis{
		PlantType: Capitalize(plantType),
		Condition: Capitalize(condition),
	}
}

func (p *Parser) split(label string) (plantType, condition string) {
	for _, rule := range p.rules {
		if strings.HasPrefix(label, rule.Prefix) {
			return rule.PlantType, strings.TrimSpace(label[len(rule.Prefix):])
		}
	}

	words := strings.Split(label, " ")
	return words[0], strings.Join(words[1:], " ")
}

// Capitalize title-cases every space separated word: first letter upper,
// the rest lower. Empty words (runs of spaces) are kept as empty.
func Capitalize(s string) string {
	if s == "" {
		return s
	}

	words := strings.Split(s, " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		first, size := utf8.DecodeRuneInString(word)
		if first == utf8.RuneError && size == 1 {
			words[i] = word[:1] + strings.ToLower(word[1:])
			continue
		}
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(word[size:])
	}
	return strings.Join(words, " ")
}
