package search

import (
	"strings"
)

const maxSlugLabelRunes = 60

// BuildSlug derives the URL-safe identifier for a record. The entity id
// suffix keeps slugs unique when labels collide, without any global lookup.
func BuildSlug(entityType EntityType, primaryText, entityID string) string {
	label := kebab(primaryText, maxSlugLabelRunes)
	if label == "" {
		label = kebab(string(entityType), maxSlugLabelRunes)
	}
	id := kebab(entityID, 0)
	if id == "" {
		return label
	}
	return label + "-" + id
}

// kebab folds text and joins its word tokens with hyphens. limit bounds the
// result length in runes (0 = unlimited) without cutting a token in half
// unless the first token alone exceeds it.
func kebab(text string, limit int) string {
	tokens := Normalize(text)
	var b strings.Builder
	n := 0
	for _, tok := range tokens {
		tokLen := len([]rune(tok))
		sep := 0
		if n > 0 {
			sep = 1
		}
		if limit > 0 && n+sep+tokLen > limit {
			if n == 0 {
				b.WriteString(string([]rune(tok)[:limit]))
			}
			break
		}
		if sep == 1 {
			b.WriteByte('-')
		}
		b.WriteString(tok)
		n += sep + tokLen
	}
	return b.String()
}
