package fluency

import (
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

// Classifier finds disfluencies in one segment of text.
type Classifier interface {
	Classify(text string, timestampMs int64) ([]domain.Disfluency, error)
}

var (
	repetitionPattern   = regexp2.MustCompile(`\b(\w+)\s+\1\b`, regexp2.IgnoreCase)
	prolongationPattern = regexp2.MustCompile(`\b[a-z]*([a-z])\1{2,}[a-z]*\b`, regexp2.IgnoreCase)
)

// TextClassifier matches interjections, repeated words and stretched letters.
type TextClassifier struct {
	singles map[string]struct{}
	pairs   map[string]struct{}
}

func NewTextClassifier(fillers []string) *TextClassifier {
	c := &TextClassifier{
		singles: make(map[string]struct{}),
		pairs:   make(map[string]struct{}),
	}
	for _, filler := range fillers {
		words := strings.Fields(strings.ToLower(filler))
		switch len(words) {
		case 1:
			c.singles[words[0]] = struct{}{}
		case 2:
			c.pairs[words[0]+" "+words[1]] = struct{}{}
		}
	}
	return c
}

func (c *TextClassifier) Classify(text string, timestampMs int64) ([]domain.Disfluency, error) {
	var found []domain.Disfluency

	for _, match := range c.interjections(text) {
		found = append(found, domain.Disfluency{Type: domain.DisfluencyInterjection, MatchedText: match, TimestampMs: timestampMs})
	}

	repetitions, err := allMatches(repetitionPattern, text)
	if err != nil {
		return nil, err
	}
	for _, match := range repetitions {
		found = append(found, domain.Disfluency{Type: domain.DisfluencyRepetition, MatchedText: match, TimestampMs: timestampMs})
	}

	prolongations, err := allMatches(prolongationPattern, text)
	if err != nil {
		return nil, err
	}
	for _, match := range prolongations {
		found = append(found, domain.Disfluency{Type: domain.DisfluencyProlongation, MatchedText: match, TimestampMs: timestampMs})
	}
	return found, nil
}

// interjections checks each token and each adjacent token pair against the lexicon.
func (c *TextClassifier) interjections(text string) []string {
	tokens := tokenize(text)
	var matches []string
	for i, token := range tokens {
		lower := strings.ToLower(token)
		if _, ok := c.singles[lower]; ok {
			matches = append(matches, token)
		}
		if i+1 < len(tokens) {
			pair := lower + " " + strings.ToLower(tokens[i+1])
			if _, ok := c.pairs[pair]; ok {
				matches = append(matches, token+" "+tokens[i+1])
			}
		}
	}
	return matches
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func allMatches(re *regexp2.Regexp, text string) ([]string, error) {
	var out []string
	m, err := re.FindStringMatch(text)
	for err == nil && m != nil {
		out = append(out, m.String())
		m, err = re.FindNextMatch(m)
	}
	return out, err
}
