package utils

import (
	"regexp"
	"strings"
)

var (
	angleBracket = regexp.MustCompile(`<[^>]*>`)
	markdownMark = regexp.MustCompile("[*_`#>]+")
	whitespace   = regexp.MustCompile(`\s+`)
)

// RemoveAngleBracketContent drops <...> spans such as leftover tags.
func RemoveAngleBracketContent(text string) string {
	return angleBracket.ReplaceAllString(text, "")
}

// RemoveControlCharacters drops control characters except tab and newlines.
func RemoveControlCharacters(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, text)
}

// SpeakableText prepares a model answer for speech synthesis.
func SpeakableText(text string) string {
	text = RemoveControlCharacters(text)
	text = RemoveAngleBracketContent(text)
	text = markdownMark.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
