package blog

import (
	"strings"
	"unicode/utf8"
)

const (
	maxSlugLength   = 200
	maxExcerptRunes = 300
	excerptCut      = 297
)

var accentMap = map[rune]rune{
	'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a', 'ä': 'a', 'å': 'a', 'ā': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i',
	'ó': 'o', 'ò': 'o', 'õ': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o', 'ō': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u',
	'ç': 'c', 'ć': 'c', 'č': 'c',
	'ñ': 'n', 'ń': 'n',
	'ý': 'y', 'ÿ': 'y',
	'ß': 's',
}

// generateSlug lowercases s, folds accents and keeps [a-z0-9-]. Whitespace
// and underscores become hyphens.
func generateSlug(s string) string {
	slug := strings.ToLower(s)
	slug = strings.Map(func(r rune) rune {
		if replacement, ok := accentMap[r]; ok {
			return replacement
		}
		return r
	}, slug)

	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		if r == ' ' || r == '_' || r == '\t' || r == '\n' {
			return '-'
		}
		return -1
	}, slug)

	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// deriveExcerpt keeps bodies of up to 300 characters whole and cuts longer
// ones to 297 characters plus "...".
func deriveExcerpt(body string) string {
	if utf8.RuneCountInString(body) <= maxExcerptRunes {
		return body
	}
	return string([]rune(body)[:excerptCut]) + "..."
}
