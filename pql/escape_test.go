package pql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeFTS5Query_SimpleTokens(t *testing.T) {
	assert.Equal(t, `"hello" "world"`, EscapeFTS5Query("hello world"))
}

func TestEscapeFTS5Query_QuotedPhrase(t *testing.T) {
	assert.Equal(t, `"hello world"`, EscapeFTS5Query(`"hello world"`))
}

func TestEscapeFTS5Query_UnbalancedQuoteGetsClosed(t *testing.T) {
	got := EscapeFTS5Query(`"unterminated`)
	assert.Equal(t, `"unterminated"`, got)
}

func TestEscapeFTS5Query_EscapedDoubleQuoteInsideToken(t *testing.T) {
	got := EscapeFTS5Query(`say ""hi""`)
	assert.Contains(t, got, `"say"`)
}

func TestEscapeFTS5Query_EmptyInput(t *testing.T) {
	assert.Equal(t, "", EscapeFTS5Query(""))
}

func TestEscapeFTS5Query_SingleQuoteIsPreserved(t *testing.T) {
	got := EscapeFTS5Query("it's")
	assert.Equal(t, `"it's"`, got)
}

func TestEscapeFTS5Query_OutputAlwaysHasEvenQuoteCount(t *testing.T) {
	inputs := []string{
		"hello world",
		`"unterminated`,
		`say ""hi""`,
		`a"b"c"`,
		`\"escaped\"`,
		"it's complicated",
		"",
	}
	for _, in := range inputs {
		out := EscapeFTS5Query(in)
		assert.Equal(t, 0, strings.Count(out, `"`)%2, "input %q -> %q", in, out)
	}
}
