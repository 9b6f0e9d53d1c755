package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldText lowercases text and strips combining marks so that "José" and
// "jose" compare equal. Runs of separators collapse into single spaces.
func FoldText(text string) string {
	return strings.Join(Normalize(text), " ")
}

// Normalize converts free text into lowercase, diacritic-free word tokens in
// their original order. Stop words are kept; use IndexTokens for index and
// query vocabularies.
func Normalize(text string) []string {
	if text == "" {
		return []string{}
	}

	folded := strings.ToLower(stripDiacritics(text))
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if tokens == nil {
		return []string{}
	}
	return tokens
}

// IndexTokens returns the deduplicated, stop-word-free tokens of text in
// first-occurrence order.
func IndexTokens(text string) []string {
	normalized := Normalize(text)
	seen := make(map[string]struct{}, len(normalized))
	out := make([]string, 0, len(normalized))
	for _, tok := range normalized {
		if IsStopWord(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// RecordTokens returns the token set stored on an IndexRecord: the union of
// primary and secondary index tokens, primary first.
func RecordTokens(primary, secondary string) []string {
	tokens := IndexTokens(primary)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	for _, t := range IndexTokens(secondary) {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// stripDiacritics decomposes text, drops nonspacing marks and recomposes.
// A new transformer is built per call because transform chains are stateful.
func stripDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
