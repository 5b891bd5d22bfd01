package fluency

import (
	"strings"
	"unicode"
)

// CountSyllables estimates syllables in text by counting vowel groups per word.
// Words with more than one group lose one for a silent trailing "e" or an "-ed"
// ending other than "-ted"/"-ded". Every word counts at least once.
func CountSyllables(text string) int {
	total := 0
	for _, token := range tokenize(text) {
		word := strings.ToLower(token)
		if !strings.ContainsFunc(word, unicode.IsLetter) {
			continue
		}
		total += wordSyllables(word)
	}
	return total
}

func wordSyllables(word string) int {
	groups := 0
	inGroup := false
	for _, r := range word {
		if isVowel(r) {
			if !inGroup {
				groups++
			}
			inGroup = true
			continue
		}
		inGroup = false
	}

	if groups > 1 {
		switch {
		case strings.HasSuffix(word, "e"):
			groups--
		case strings.HasSuffix(word, "ed") && !strings.HasSuffix(word, "ted") && !strings.HasSuffix(word, "ded"):
			groups--
		}
	}
	if groups < 1 {
		return 1
	}
	return groups
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}
