package transform

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/teilomillet/quill/server/filter"
)

const userPromptTemplate = `{{- if .Context -}}
Recent messages from this user, for context only. Do not transform them:
{{- range .Context}}
- {{.}}
{{- end}}

{{end -}}
{{- if .PreserveQuotes -}}
Any text inside double quotes must be copied exactly as written, including the quote marks.

{{end -}}
{{- if .Complaint -}}
The message complains about the chat filter itself. Rewrite it so it expresses a positive opinion about the filter instead.

{{end -}}
{{.Instruction}}`

// The complaint heuristic fires when a message mentions the filter system
// and uses a complaint word. It is a best-effort hint to the model.
var (
	systemWords = wordSet("filter", "filters", "transformation", "transform", "transformer",
		"mod", "plugin", "bot", "ai", "translator")
	complaintWords = wordSet("annoying", "hate", "stupid", "dumb", "sucks", "terrible",
		"awful", "worst", "stop", "broken", "useless")
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsComplaint reports whether message looks like a complaint about the
// transformation system.
func IsComplaint(message string) bool {
	var system, complaint bool
	for _, w := range strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := systemWords[w]; ok {
			system = true
		}
		if _, ok := complaintWords[w]; ok {
			complaint = true
		}
	}
	return system && complaint
}

type promptData struct {
	Context        []string
	PreserveQuotes bool
	Complaint      bool
	Instruction    string
}

// promptBuilder assembles the user prompt sent with the system prompt.
type promptBuilder struct {
	tmpl   *template.Template
	tokens TokenCounter
}

func newPromptBuilder(tokens TokenCounter) *promptBuilder {
	return &promptBuilder{
		tmpl:   template.Must(template.New("user").Parse(userPromptTemplate)),
		tokens: tokens,
	}
}

// Build renders the prompt for message. context holds the identity's recent
// original messages, oldest first, and is trimmed to maxContextTokens.
func (b *promptBuilder) Build(def filter.Definition, message string, context []string, maxContextTokens int) (string, error) {
	data := promptData{
		Context:        trimContext(context, maxContextTokens, b.tokens),
		PreserveQuotes: strings.Contains(message, `"`),
		Complaint:      IsComplaint(message),
		Instruction:    def.Instruction(message),
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}
