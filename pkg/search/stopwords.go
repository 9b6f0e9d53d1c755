package search

// stopWords are dropped from index and query tokens. English and Filipino
// function words only; proper-name particles such as "dela" and "delos" stay
// searchable.
var stopWords = buildStopWordSet(
	// English
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"if", "in", "into", "is", "its", "no", "not", "of", "on", "or",
	"such", "that", "the", "their", "then", "there", "these", "they", "this",
	"to", "was", "were", "will", "with",
	// Filipino
	"ang", "ng", "nang", "mga", "sa", "na", "ay", "si", "sina", "ni", "nina",
	"kay", "kina", "o", "para", "din", "rin", "ito", "iyan", "iyon", "yung",
	"mula", "hanggang", "pa", "pati", "kung", "dahil",
)

func buildStopWordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopWord reports whether token is on the stop-word list. The token must
// already be normalised.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}
