package ner

import (
	"context"
	"regexp"
	"strings"

	"citegraph/internal/provenance"
)

// PatternTagger is the statistical-free baseline: curated regular expressions
// over surface shape. It is deliberately conservative; the generative
// fallback re-examines what it misses.
type PatternTagger struct{}

// NewPatternTagger builds the baseline tagger.
func NewPatternTagger() *PatternTagger { return &PatternTagger{} }

var (
	// Capitalized word runs, the raw material for PERSON/ORG/GPE decisions.
	properRe = regexp.MustCompile(`\b[A-Z][A-Za-z&.\-]*(?:\s+(?:of\s+|the\s+)?[A-Z][A-Za-z&.\-]*)*\b`)
	dateRe   = regexp.MustCompile(`\b(?:\d{1,2}\s+)?(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b|\b\d{4}-\d{2}-\d{2}\b|\b(?:19|20)\d{2}\b`)
	lawRe    = regexp.MustCompile(`\b[A-Z][A-Za-z\s]{2,40}(?:Act|Regulation|Directive|Treaty|Amendment)(?:\s+of\s+\d{4})?\b`)
	techRe   = regexp.MustCompile(`\b(?:Kubernetes|PostgreSQL|Redis|Kafka|TensorFlow|PyTorch|GraphQL|gRPC|WebAssembly|OAuth2?|TLS|HTTP/\d(?:\.\d)?|[A-Z][a-z]+(?:DB|SQL|ML))\b`)
)

var orgSuffixes = []string{
	"Inc", "Inc.", "Corp", "Corp.", "Corporation", "Ltd", "Ltd.", "LLC",
	"GmbH", "AG", "Labs", "Foundation", "Institute", "University", "Company",
}

var personTitles = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "President", "CEO", "CTO", "Senator",
}

// A small gazetteer of geopolitical names keeps GPE precision reasonable
// without a model.
var gpeNames = map[string]bool{
	"United States": true, "United Kingdom": true, "Germany": true,
	"France": true, "Japan": true, "China": true, "India": true,
	"Berlin": true, "London": true, "Paris": true, "Tokyo": true,
	"New York": true, "San Francisco": true, "California": true,
	"Europe": true, "Asia": true, "America": true,
}

var stopwords = map[string]bool{
	"The": true, "A": true, "An": true, "This": true, "That": true,
	"It": true, "He": true, "She": true, "They": true, "We": true,
	"I": true, "You": true, "But": true, "And": true, "Or": true,
	"In": true, "On": true, "At": true, "By": true, "For": true,
	"With": true, "From": true, "As": true, "If": true, "When": true,
	"His": true, "Her": true, "Its": true, "Their": true, "Our": true,
}

func (t *PatternTagger) Tag(_ context.Context, text string) ([]Span, error) {
	var spans []Span
	claimed := make([]bool, len(text))

	claim := func(start, end int, typ provenance.EntityType, conf float64) {
		for i := start; i < end; i++ {
			if claimed[i] {
				return
			}
		}
		for i := start; i < end; i++ {
			claimed[i] = true
		}
		spans = append(spans, Span{Start: start, End: end, Type: typ, Confidence: conf})
	}

	for _, m := range lawRe.FindAllStringIndex(text, -1) {
		claim(m[0], m[1], provenance.TypeLaw, 0.85)
	}
	for _, m := range techRe.FindAllStringIndex(text, -1) {
		claim(m[0], m[1], provenance.TypeTech, 0.80)
	}
	for _, m := range dateRe.FindAllStringIndex(text, -1) {
		claim(m[0], m[1], provenance.TypeDate, 0.90)
	}
	for _, m := range properRe.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		surface := text[start:end]
		if stopwords[surface] || len(surface) < 2 {
			continue
		}
		// A leading title marks a person; the title is not part of the name.
		if off, ok := stripTitle(surface); ok && start+off < end {
			claim(start+off, end, provenance.TypePerson, 0.85)
			continue
		}
		typ, conf := classifyProper(text, start, surface)
		if typ == "" {
			continue
		}
		claim(start, end, typ, conf)
	}
	return spans, nil
}

func stripTitle(surface string) (int, bool) {
	for _, title := range personTitles {
		if rest, ok := strings.CutPrefix(surface, title+" "); ok && rest != "" {
			off := len(title) + 1
			for off < len(surface) && surface[off] == ' ' {
				off++
			}
			return off, true
		}
	}
	return 0, false
}

func classifyProper(text string, start int, surface string) (provenance.EntityType, float64) {
	if gpeNames[surface] {
		return provenance.TypeGPE, 0.85
	}
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(surface, " "+suffix) || surface == suffix {
			return provenance.TypeOrg, 0.85
		}
	}
	// A title immediately before the span marks a person.
	prefix := text[:start]
	for _, title := range personTitles {
		if strings.HasSuffix(strings.TrimRight(prefix, " "), title) {
			return provenance.TypePerson, 0.85
		}
	}
	words := strings.Fields(surface)
	if len(words) >= 2 && len(words) <= 3 && allTitleCase(words) {
		// Mid-sentence multi-word proper nouns are likely names; sentence
		// starts are too noisy to guess.
		if start > 0 && !isSentenceStart(text, start) {
			return provenance.TypePerson, 0.60
		}
		return provenance.TypeOrg, 0.50
	}
	if len(words) == 1 && start > 0 && !isSentenceStart(text, start) {
		return provenance.TypeOrg, 0.45
	}
	return "", 0
}

func allTitleCase(words []string) bool {
	for _, w := range words {
		if w == "of" || w == "the" {
			continue
		}
		if w[0] < 'A' || w[0] > 'Z' {
			return false
		}
	}
	return true
}

func isSentenceStart(text string, start int) bool {
	i := start - 1
	for i >= 0 && (text[i] == ' ' || text[i] == '\n' || text[i] == '"') {
		i--
	}
	if i < 0 {
		return true
	}
	return text[i] == '.' || text[i] == '!' || text[i] == '?'
}
