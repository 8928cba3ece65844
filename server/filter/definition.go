// Package filter holds the named style definitions a message can be
// rewritten with.
package filter

import (
	"regexp"
	"strings"
)

// symbolPattern matches emoji and other symbol characters.
var symbolPattern = regexp.MustCompile(`[\p{So}\p{Sk}]`)

// Definition is a named style transformation. Name is the uppercase key.
type Definition struct {
	Name    string `json:"name"`
	Prompt  string `json:"prompt"`
	Emoji   string `json:"emoji"`
	Color   string `json:"color"`
	Enabled bool   `json:"enabled"`
}

// DisplayName is the lowercase, space separated form of Name.
func (d Definition) DisplayName() string {
	return strings.ReplaceAll(strings.ToLower(d.Name), "_", " ")
}

// Instruction builds the style instruction for message: the filter prompt,
// the fixed rewriting constraints, the emoji rule and the literal message.
// Emojis are only permitted when the message already contains symbols.
func (d Definition) Instruction(message string) string {
	var b strings.Builder
	b.WriteString(d.Prompt)
	b.WriteString(". Transform ONLY the tone/style, never the meaning or content")
	b.WriteString(". Keep it roughly the same length")
	b.WriteString(". Retain the original point of view (first person 'I', second person 'you', third person, etc.)")
	b.WriteString(". Do not add new information or context")
	if HasSymbols(message) {
		b.WriteString(" You may use emojis since the original message contains them.")
	} else {
		b.WriteString(" Do NOT use any emojis in your response.")
	}
	b.WriteString(". ONLY respond with the transformed message: \"")
	b.WriteString(message)
	b.WriteString("\"")
	return b.String()
}

// HasSymbols reports whether s contains an emoji or other symbol character.
func HasSymbols(s string) bool {
	return symbolPattern.MatchString(s)
}

// NormalizeName returns the catalog key for name.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
