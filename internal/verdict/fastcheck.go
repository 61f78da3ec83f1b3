package verdict

import (
	"errors"
	"fmt"
	"strings"

	"github.com/angleyanalbedo/generatestcode/internal/stlex"
)

// FastOptions configures the fast structural check.
type FastOptions struct {
	MaxDepth       int    // nesting ceiling; exceeding it is a syntax rejection
	MaxSourceBytes int    // size ceiling in bytes
	RequiredPOU    string // POU kind that must be declared, e.g. FUNCTION_BLOCK; empty disables
	RequireVar     bool   // at least one VAR section must be present
}

// DefaultFastOptions returns the options used when none are configured.
func DefaultFastOptions() FastOptions {
	return FastOptions{
		MaxDepth:       64,
		MaxSourceBytes: 256 * 1024,
		RequiredPOU:    "FUNCTION_BLOCK",
		RequireVar:     true,
	}
}

// blockClosers maps each block opener to the keyword that closes it.
var blockClosers = map[string]string{
	"IF":             "END_IF",
	"CASE":           "END_CASE",
	"FOR":            "END_FOR",
	"WHILE":          "END_WHILE",
	"REPEAT":         "END_REPEAT",
	"FUNCTION_BLOCK": "END_FUNCTION_BLOCK",
	"FUNCTION":       "END_FUNCTION",
	"PROGRAM":        "END_PROGRAM",
	"METHOD":         "END_METHOD",
	"ACTION":         "END_ACTION",
	"INTERFACE":      "END_INTERFACE",
	"PROPERTY":       "END_PROPERTY",
	"CONFIGURATION":  "END_CONFIGURATION",
	"RESOURCE":       "END_RESOURCE",
	"STRUCT":         "END_STRUCT",
	"TYPE":           "END_TYPE",
	"VAR":            "END_VAR",
	"VAR_INPUT":      "END_VAR",
	"VAR_OUTPUT":     "END_VAR",
	"VAR_IN_OUT":     "END_VAR",
	"VAR_TEMP":       "END_VAR",
	"VAR_GLOBAL":     "END_VAR",
	"VAR_EXTERNAL":   "END_VAR",
	"VAR_STAT":       "END_VAR",
	"VAR_INST":       "END_VAR",
	"VAR_ACCESS":     "END_VAR",
	"VAR_CONFIG":     "END_VAR",
}

var closers = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range blockClosers {
		m[c] = true
	}
	return m
}()

// declarative blocks hold declarations, not statements.
func declarative(opener string) bool {
	return opener == "STRUCT" || opener == "TYPE" || strings.HasPrefix(opener, "VAR")
}

// statementOpeners are reserved words. Every other opener is also a legal
// identifier and only opens a block where a declaration header can start.
var statementOpeners = map[string]bool{
	"IF": true, "CASE": true, "FOR": true, "WHILE": true, "REPEAT": true,
}

// keywords after which a new statement begins.
var statementLeaders = map[string]bool{
	";": true, "THEN": true, "ELSE": true, "DO": true, "REPEAT": true, "END_VAR": true, ":": true,
}

type openBlock struct {
	opener string
	line   int
}

// FastChecker is the first funnel. It is safe for concurrent use.
type FastChecker struct {
	opts FastOptions
}

// NewFastChecker returns a checker. Zero MaxDepth and MaxSourceBytes fall
// back to the defaults.
func NewFastChecker(opts FastOptions) *FastChecker {
	def := DefaultFastOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = def.MaxSourceBytes
	}
	opts.RequiredPOU = strings.ToUpper(strings.TrimSpace(opts.RequiredPOU))
	return &FastChecker{opts: opts}
}

// Options returns the effective options.
func (f *FastChecker) Options() FastOptions { return f.opts }

// Check scans source once. It returns an empty diagnostic when the source is
// structurally sound, otherwise a human readable reason.
func (f *FastChecker) Check(source string) (string, bool) {
	if strings.TrimSpace(source) == "" {
		return "empty source", false
	}
	if len(source) > f.opts.MaxSourceBytes {
		return fmt.Sprintf("source is %d bytes, limit is %d", len(source), f.opts.MaxSourceBytes), false
	}
	if i := strings.Index(source, "```"); i >= 0 {
		return fmt.Sprintf("line %d: markdown fence left in source", 1+strings.Count(source[:i], "\n")), false
	}

	s := scan{opts: f.opts, atStatement: true}
	lx := stlex.New(source)
	tok, err := lx.Next()
	for {
		if err != nil {
			var lexErr *stlex.Error
			if errors.As(err, &lexErr) {
				return fmt.Sprintf("line %d: %s (source looks truncated)", lexErr.Line, lexErr.Msg), false
			}
			return err.Error(), false
		}
		if tok.Kind == stlex.EOF {
			return s.finish(tok.Line)
		}
		// One token of lookahead; a lex error surfaces on the next round.
		next, nextErr := lx.Next()
		if diag := s.step(tok, next); diag != "" {
			return diag, false
		}
		tok, err = next, nextErr
	}
}

// scan holds the state of one Check call.
type scan struct {
	opts  FastOptions
	stack []openBlock

	sawPOU bool
	sawVar bool

	// assignment detection: a statement that starts with an lvalue
	// followed by '=' instead of ':='.
	atStatement bool
	inLHS       bool
	lhsExpectID bool
	bracket     int

	prev, prev2 stlex.Token
}

func (s *scan) inDeclarations() bool {
	return len(s.stack) > 0 && declarative(s.stack[len(s.stack)-1].opener)
}

func (s *scan) step(tok, next stlex.Token) string {
	defer func() { s.prev2, s.prev = s.prev, tok }()

	if tok.Is("]") && s.prev.Is("*") && s.prev2.Is("[") {
		return fmt.Sprintf("line %d: dynamic ARRAY[*] is not supported", tok.Line)
	}

	// Member access such as motor.PROGRAM is never a keyword.
	word, opens, keyword := "", false, false
	if tok.Kind == stlex.Ident && !s.prev.Is(".") {
		word = tok.Upper()
		opens = s.opens(word, next)
		keyword = opens || reserved[word] || closers[word]
	}

	if diag := s.trackAssignment(tok, keyword); diag != "" {
		return diag
	}

	if word == "" {
		return ""
	}

	if opens {
		if len(s.stack) >= s.opts.MaxDepth {
			return fmt.Sprintf("line %d: nesting depth exceeds %d", tok.Line, s.opts.MaxDepth)
		}
		s.stack = append(s.stack, openBlock{opener: word, line: tok.Line})
		if word == s.opts.RequiredPOU {
			s.sawPOU = true
		}
		if strings.HasPrefix(word, "VAR") {
			s.sawVar = true
		}
		return ""
	}

	if closers[word] {
		if len(s.stack) == 0 {
			return fmt.Sprintf("line %d: unexpected %s", tok.Line, word)
		}
		top := s.stack[len(s.stack)-1]
		if want := blockClosers[top.opener]; want != word {
			return fmt.Sprintf("line %d: unexpected %s, expected %s", tok.Line, word, want)
		}
		s.stack = s.stack[:len(s.stack)-1]
	}
	return ""
}

// opens reports whether word starts a block here. Names such as method or
// resource are ordinary variables in declarations, expressions and
// parameter lists.
func (s *scan) opens(word string, next stlex.Token) bool {
	if _, ok := blockClosers[word]; !ok {
		return false
	}
	if statementOpeners[word] {
		return true
	}
	if s.inDeclarations() {
		return word == "STRUCT" && s.prev.Is(":")
	}
	switch next.Kind {
	case stlex.Ident, stlex.Pragma, stlex.EOF:
	default:
		return false
	}
	switch s.prev.Kind {
	case stlex.Ident:
		return !reserved[s.prev.Upper()]
	case stlex.Symbol:
		return s.prev.Is(";")
	}
	return true
}

func (s *scan) trackAssignment(tok stlex.Token, keyword bool) string {
	start := s.atStatement
	s.atStatement = (tok.Kind == stlex.Ident || tok.Kind == stlex.Symbol) && statementLeaders[tok.Upper()]

	if s.inDeclarations() {
		s.inLHS = false
		return ""
	}

	if start && tok.Kind == stlex.Ident && !keyword {
		s.inLHS, s.lhsExpectID, s.bracket = true, false, 0
		return ""
	}
	if !s.inLHS {
		return ""
	}

	switch {
	case s.bracket > 0:
		if tok.Is("[") {
			s.bracket++
		} else if tok.Is("]") {
			s.bracket--
		}
	case s.lhsExpectID:
		s.lhsExpectID = false
		if tok.Kind != stlex.Ident {
			s.inLHS = false
		}
	case tok.Is("."):
		s.lhsExpectID = true
	case tok.Is("["):
		s.bracket = 1
	case tok.Is("^"):
	case tok.Is("="):
		s.inLHS = false
		return fmt.Sprintf("line %d: '=' used for assignment, expected ':='", tok.Line)
	default:
		s.inLHS = false
	}
	return ""
}

func (s *scan) finish(line int) (string, bool) {
	if n := len(s.stack); n > 0 {
		top := s.stack[n-1]
		return fmt.Sprintf("line %d: unexpected end of source, expected %s for %s opened at line %d",
			line, blockClosers[top.opener], top.opener, top.line), false
	}
	if s.opts.RequiredPOU != "" && !s.sawPOU {
		return fmt.Sprintf("missing %s declaration", s.opts.RequiredPOU), false
	}
	if s.opts.RequireVar && !s.sawVar {
		return "missing VAR declaration section", false
	}
	return "", true
}

var reserved = map[string]bool{
	"IF": true, "ELSIF": true, "ELSE": true, "THEN": true, "CASE": true, "OF": true,
	"FOR": true, "TO": true, "BY": true, "DO": true, "WHILE": true, "REPEAT": true,
	"UNTIL": true, "EXIT": true, "RETURN": true, "CONTINUE": true, "NOT": true,
	"AND": true, "OR": true, "XOR": true, "MOD": true, "TRUE": true, "FALSE": true,
	"CONSTANT": true, "RETAIN": true, "AT": true,
}
