package pql

import (
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// EscapeFTS5Query turns free-form user search text into a token sequence
// safe for the SQLite FTS5 MATCH operator: balance embedded double quotes,
// tokenize honoring shell-style quoting (falling back to a whitespace split
// if the input isn't validly quoted), then re-quote and re-escape each
// token.
func EscapeFTS5Query(input string) string {
	working := strings.ReplaceAll(input, `\"`, `""`)
	if strings.Count(working, `"`)%2 != 0 {
		working += `"`
	}
	working = strings.ReplaceAll(working, `'`, `\'`)
	working = strings.ReplaceAll(working, `""`, `\"`)

	tokens, err := shellwords.Parse(working)
	if err != nil || len(tokens) == 0 {
		tokens = strings.Fields(working)
	}

	escaped := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.ReplaceAll(token, `"`, `""`)
		escaped = append(escaped, `"`+token+`"`)
	}
	return strings.Join(escaped, " ")
}
