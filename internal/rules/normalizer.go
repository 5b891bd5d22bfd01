// Package rules canonicalizes recognizer output before disfluency classification.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// rule rewrites one transcript and reports whether anything changed.
type rule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line of a rules file.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (rule, error)
}

// builtinRules fold recognizer spellings of fillers onto the lexicon forms.
const builtinRules = `
s/\bum{2,}\b/um/g
s/\buh{2,}\b/uh/g
s/\berm+\b/um/g
s/\bhm{2,}\b/hmm/g
`

// Normalizer applies the built-in filler rules followed by user rules until the
// text stops changing or the loop limit is hit.
type Normalizer struct {
	rules     []rule
	loopLimit int
}

// NewNormalizer loads user rules from path. A blank or missing path yields the
// built-in rules only.
func NewNormalizer(path string, loopLimit int) (*Normalizer, error) {
	return NewNormalizerWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewNormalizerWithParsers allows extra rule syntaxes without changing the normalizer.
func NewNormalizerWithParsers(path string, loopLimit int, parsers []RuleParser) (*Normalizer, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	rules, err := parseRules(builtinRules, defaultRuleParsers())
	if err != nil {
		return nil, fmt.Errorf("built-in rules: %w", err)
	}

	if strings.TrimSpace(path) == "" {
		return &Normalizer{rules: rules, loopLimit: loopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Normalizer{rules: rules, loopLimit: loopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	user, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	return &Normalizer{rules: append(rules, user...), loopLimit: loopLimit}, nil
}

// Normalize rewrites text and collapses runs of whitespace.
func (n *Normalizer) Normalize(text string) (string, error) {
	result := text
	for i := 0; i < n.loopLimit; i++ {
		changed := false
		for _, r := range n.rules {
			next, ruleChanged := r.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.Join(strings.Fields(result), " "), nil
}

func parseRules(contents string, parsers []RuleParser) ([]rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			r, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, r)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, wordRuleParser{}}
}
