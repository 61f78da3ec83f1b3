// Package stlex is a small single-pass lexer for IEC 61131-3 Structured Text.
//
// It does not parse. It produces identifiers (keywords included), literals,
// symbols and optionally comments, each tagged with its line number, and
// reports unterminated comments and strings. Every byte of the input is
// visited once, so lexing is linear in the size of the source.
package stlex

import (
	"fmt"
	"strings"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Number
	String
	Symbol
	Comment
	Pragma
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case Ident:
		return "Ident"
	case Number:
		return "Number"
	case String:
		return "String"
	case Symbol:
		return "Symbol"
	case Comment:
		return "Comment"
	case Pragma:
		return "Pragma"
	default:
		return "Unknown"
	}
}

// Token is one lexical unit.
type Token struct {
	Kind Kind
	Text string
	Line int
}

// Upper returns the token text upper-cased. ST keywords and identifiers are
// case-insensitive.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Is reports whether the token is the identifier or symbol s, ignoring case.
func (t Token) Is(s string) bool {
	return (t.Kind == Ident || t.Kind == Symbol) && strings.EqualFold(t.Text, s)
}

// Error is a lexical error with the line it was detected on.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Lexer scans a source string.
type Lexer struct {
	src  string
	pos  int
	line int

	// KeepComments makes Next return Comment and Pragma tokens instead of
	// skipping them.
	KeepComments bool
}

// New returns a lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: src, line: 1}
}

// Line returns the current line.
func (l *Lexer) Line() int { return l.line }

var twoCharSymbols = map[string]bool{
	":=": true, "=>": true, "<=": true, ">=": true, "<>": true, "**": true, "..": true,
}

// Next returns the next token. At end of input it returns a token of kind EOF.
func (l *Lexer) Next() (Token, error) {
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return Token{Kind: EOF, Line: l.line}, nil
		}

		start, line := l.pos, l.line
		c := l.src[l.pos]

		switch {
		case c == '(' && l.peek(1) == '*':
			if err := l.skipBlock(2, "*)", "unterminated comment"); err != nil {
				return Token{}, err
			}
			if l.KeepComments {
				return Token{Kind: Comment, Text: l.src[start:l.pos], Line: line}, nil
			}
			continue
		case c == '/' && l.peek(1) == '*':
			if err := l.skipBlock(2, "*/", "unterminated comment"); err != nil {
				return Token{}, err
			}
			if l.KeepComments {
				return Token{Kind: Comment, Text: l.src[start:l.pos], Line: line}, nil
			}
			continue
		case c == '/' && l.peek(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			if l.KeepComments {
				return Token{Kind: Comment, Text: l.src[start:l.pos], Line: line}, nil
			}
			continue
		case c == '{':
			if err := l.skipBlock(1, "}", "unterminated pragma"); err != nil {
				return Token{}, err
			}
			if l.KeepComments {
				return Token{Kind: Pragma, Text: l.src[start:l.pos], Line: line}, nil
			}
			continue
		case c == '\'' || c == '"':
			if err := l.scanString(c); err != nil {
				return Token{}, err
			}
			return Token{Kind: String, Text: l.src[start:l.pos], Line: line}, nil
		case isLetter(c):
			l.scanWord()
			kind := Ident
			if l.peek(0) == '#' {
				l.scanTypedLiteral()
				kind = Number
			}
			return Token{Kind: kind, Text: l.src[start:l.pos], Line: line}, nil
		case isDigit(c):
			l.scanNumber()
			return Token{Kind: Number, Text: l.src[start:l.pos], Line: line}, nil
		}

		if l.pos+1 < len(l.src) && twoCharSymbols[l.src[l.pos:l.pos+2]] {
			l.pos += 2
		} else {
			l.pos++
		}
		return Token{Kind: Symbol, Text: l.src[start:l.pos], Line: line}, nil
	}
}

// All lexes the whole source.
func (l *Lexer) All() ([]Token, error) {
	var out []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return out, err
		}
		if tok.Kind == EOF {
			return out, nil
		}
		out = append(out, tok)
	}
}

func (l *Lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\n':
			l.line++
		case ' ', '\t', '\r', '\f', '\v':
		default:
			return
		}
		l.pos++
	}
}

func (l *Lexer) skipBlock(open int, end, msg string) error {
	line := l.line
	l.pos += open
	for l.pos < len(l.src) {
		if strings.HasPrefix(l.src[l.pos:], end) {
			l.pos += len(end)
			return nil
		}
		if l.src[l.pos] == '\n' {
			l.line++
		}
		l.pos++
	}
	return &Error{Line: line, Msg: msg}
}

func (l *Lexer) scanString(quote byte) error {
	line := l.line
	l.pos++
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '$':
			if l.peek(1) == '\n' {
				l.line++
			}
			l.pos += 2
			continue
		case '\n':
			return &Error{Line: line, Msg: "unterminated string literal"}
		case quote:
			l.pos++
			return nil
		}
		l.pos++
	}
	return &Error{Line: line, Msg: "unterminated string literal"}
}

func (l *Lexer) scanWord() {
	for l.pos < len(l.src) && (isLetter(l.src[l.pos]) || isDigit(l.src[l.pos])) {
		l.pos++
	}
}

// scanNumber accepts decimal, based (16#FF), real and exponent forms.
func (l *Lexer) scanNumber() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isDigit(c) || c == '_':
		case c == '#':
			l.scanTypedLiteral()
			return
		case c == '.' && isDigit(l.peek(1)):
		case (c == 'e' || c == 'E') && (isDigit(l.peek(1)) || ((l.peek(1) == '+' || l.peek(1) == '-') && isDigit(l.peek(2)))):
			l.pos++
		default:
			return
		}
		l.pos++
	}
}

// scanTypedLiteral consumes the part after '#' in literals such as T#5s,
// INT#-3, 16#FF or DT#2024-01-01-12:00:00.
func (l *Lexer) scanTypedLiteral() {
	l.pos++ // '#'
	if l.pos < len(l.src) && (l.src[l.pos] == '-' || l.src[l.pos] == '+') {
		l.pos++
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isLetter(c) || isDigit(c) || c == '.' || c == ':' || (c == '-' && isDigit(l.peek(1))) {
			l.pos++
			continue
		}
		return
	}
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
