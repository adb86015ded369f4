package reference

import (
	"strings"
	"unicode"
)

// invalidPageNameChars cannot appear in a target page name. "." separates the
// space from the page and ":" the wiki from the space. "/" is kept so that
// hierarchical paths can be flattened after conversion.
const invalidPageNameChars = `.:\?#[]|{}<>"'`

// ConvertPageName turns a source title fragment into a target page name by
// dropping whitespace, control characters and reserved punctuation.
func ConvertPageName(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	for _, r := range title {
		switch {
		case unicode.IsSpace(r), unicode.IsControl(r), r == '_':
			// MediaWiki treats "_" as a space in titles.
			continue
		case strings.ContainsRune(invalidPageNameChars, r):
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
