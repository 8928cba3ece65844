package provider

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	errInvalidJSON = errors.New("failed to parse JSON response")
	errNoContent   = errors.New("unexpected response format")
)

// extractText reads the string at path from a JSON body.
func extractText(body []byte, path string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errInvalidJSON
	}
	v := gjson.GetBytes(body, path)
	if v.Type != gjson.String {
		return "", errNoContent
	}
	return v.String(), nil
}

const quoteGlyphs = "\"'“”„‘’«»"

// StripSurroundingQuotes trims s and removes one pair of surrounding quote
// glyphs. The opening and closing glyph need not match, since models mix
// straight and typographic quotes.
func StripSurroundingQuotes(s string) string {
	t := strings.TrimSpace(s)
	first, fw := utf8.DecodeRuneInString(t)
	last, lw := utf8.DecodeLastRuneInString(t)
	if fw+lw > len(t) {
		return t
	}
	if strings.ContainsRune(quoteGlyphs, first) && strings.ContainsRune(quoteGlyphs, last) {
		return t[fw : len(t)-lw]
	}
	return t
}
