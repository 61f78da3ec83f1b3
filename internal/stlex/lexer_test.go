package stlex

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(toks []Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func TestLexer_Basic(t *testing.T) {
	src := "IF x >= 10 THEN\n  y := T#5s; (* wait *)\nEND_IF;"
	toks, err := New(src).All()
	require.NoError(t, err)

	assert.Equal(t, []string{"IF", "x", ">=", "10", "THEN", "y", ":=", "T#5s", ";", "END_IF", ";"}, texts(toks))
	assert.Equal(t, Number, toks[7].Kind)
	assert.Equal(t, 1, toks[0].Line)
	assert.Equal(t, 2, toks[5].Line)
	assert.Equal(t, 3, toks[9].Line)
}

func TestLexer_Literals(t *testing.T) {
	toks, err := New("16#FF 1.5E-3 2#1010_1010 'it$'s' \"wide\" arr[1..10]").All()
	require.NoError(t, err)
	assert.Equal(t, []string{"16#FF", "1.5E-3", "2#1010_1010", "'it$'s'", `"wide"`, "arr", "[", "1", "..", "10", "]"}, texts(toks))
}

func TestLexer_EscapedNewlineCountsLine(t *testing.T) {
	toks, err := New("msg := 'one$\ntwo';\nx := 1;").All()
	require.NoError(t, err)
	assert.Equal(t, []string{"msg", ":=", "'one$\ntwo'", ";", "x", ":=", "1", ";"}, texts(toks))
	assert.Equal(t, 1, toks[2].Line)
	assert.Equal(t, 3, toks[4].Line)
}

func TestLexer_Comments(t *testing.T) {
	src := "a (* block\nstill *) b // line\n/* c-style */ c {attribute 'x'} d"

	toks, err := New(src).All()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts(toks))
	assert.Equal(t, 2, toks[1].Line)

	lx := New(src)
	lx.KeepComments = true
	toks, err = lx.All()
	require.NoError(t, err)
	assert.Len(t, toks, 8)
	assert.Equal(t, Comment, toks[1].Kind)
	assert.Equal(t, Pragma, toks[6].Kind)
}

func TestLexer_EmptyComment(t *testing.T) {
	toks, err := New("(**) x").All()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, texts(toks))

	_, err = New("(*) x").All()
	require.Error(t, err)
}

func TestLexer_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unterminated comment", "x := 1;\n(* never closed", 2, "unterminated comment"},
		{"unterminated c comment", "/* open", 1, "unterminated comment"},
		{"unterminated string", "s := 'abc\n;", 1, "unterminated string literal"},
		{"unterminated pragma", "{ attribute", 1, "unterminated pragma"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.src).All()
			require.Error(t, err)
			var lexErr *Error
			require.ErrorAs(t, err, &lexErr)
			assert.Equal(t, tt.line, lexErr.Line)
			assert.Equal(t, tt.msg, lexErr.Msg)
		})
	}
}

func TestLexer_AdversarialInputTerminates(t *testing.T) {
	inputs := []string{
		strings.Repeat("(", 100000),
		strings.Repeat("'$", 50000),
		strings.Repeat("#", 100000),
		strings.Repeat("1e", 50000),
		strings.Repeat("\x00\xff", 50000),
	}
	for _, in := range inputs {
		_, _ = New(in).All()
	}
}

func TestToken_Is(t *testing.T) {
	tok := Token{Kind: Ident, Text: "end_if"}
	assert.True(t, tok.Is("END_IF"))
	assert.Equal(t, "END_IF", tok.Upper())
	assert.False(t, Token{Kind: String, Text: "'IF'"}.Is("'IF'"))
}
