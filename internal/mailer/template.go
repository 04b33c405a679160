package mailer

import (
	"fmt"
	"strings"
)

// SubjectTemplate is the subject line of complaint notifications.
const SubjectTemplate = "New cyber crime complaint {{ticket_id}} ({{category}})"

// RenderTemplate substitutes {{key}} tokens with the given values. Tokens
// without a value are replaced with an empty string.
func RenderTemplate(tmpl string, values map[string]string) string {
	result := tmpl
	for key, value := range values {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	for {
		start := strings.Index(result, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end < 0 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

// RenderSummary lays out label/value rows as plain text, skipping the header
// row when it is the "Field"/"Details" pair.
func RenderSummary(title string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")

	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for i, r := range rows {
		if i == 0 && r == [2]string{"Field", "Details"} {
			continue
		}
		fmt.Fprintf(&b, "%-*s  %s\n", width+1, r[0]+":", r[1])
	}
	return b.String()
}
