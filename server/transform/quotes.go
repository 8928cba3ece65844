package transform

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Bypass reports whether message is wrapped in quotes and should be sent as
// is. One layer of quotes is removed: `"hi"` becomes `hi` and `""hi""`
// becomes `"hi"`.
func Bypass(message string) (string, bool) {
	t := strings.TrimSpace(message)
	if len(t) >= 4 && strings.HasPrefix(t, `""`) && strings.HasSuffix(t, `""`) {
		return t[1 : len(t)-1], true
	}
	if len(t) >= 2 && strings.Count(t, `"`) == 2 && t[0] == '"' && t[len(t)-1] == '"' {
		return t[1 : len(t)-1], true
	}
	return "", false
}

// QuotedSubstrings returns the text between each pair of double quotes, in
// order. An unmatched trailing quote is ignored.
func QuotedSubstrings(s string) []string {
	parts := strings.Split(s, `"`)
	var out []string
	for i := 1; i < len(parts)-1; i += 2 {
		out = append(out, parts[i])
	}
	return out
}

// FollowUp returns the notice shown when the model changed quoted text, or
// "" when the quotes survived. Any difference in count or content counts as
// a change.
func FollowUp(identity, original, transformed string, previewLen int) string {
	want := QuotedSubstrings(original)
	if len(want) == 0 {
		return ""
	}
	if slices.Equal(want, QuotedSubstrings(transformed)) {
		return ""
	}

	quoted := make([]string, len(want))
	for i, q := range want {
		quoted[i] = `"` + q + `"`
	}
	return fmt.Sprintf(`%s originally said "%s" and quoted: %s`,
		identity, Preview(original, previewLen), strings.Join(quoted, ", "))
}

// Preview shortens s to n runes, marking the cut with "...".
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
