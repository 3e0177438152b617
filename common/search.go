package common

import (
	"strings"

	"gorm.io/gorm"
)

// LikeEscape goes after every LIKE that takes a ContainsPattern argument.
const LikeEscape = ` ESCAPE '\'`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns user text into a LIKE pattern for a literal,
// case-insensitive substring match against LOWER(column). SQLite's LOWER
// only folds ASCII, so the needle is folded the same way there.
func ContainsPattern(db *gorm.DB, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		text = asciiLower(text)
	} else {
		text = strings.ToLower(text)
	}
	return "%" + likeEscaper.Replace(text) + "%"
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
