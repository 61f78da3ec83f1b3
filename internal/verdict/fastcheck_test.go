package verdict

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterFB = `FUNCTION_BLOCK FB_Counter
VAR_INPUT
    Enable : BOOL;
    Limit : INT := 10;
END_VAR
VAR
    Count : INT := 0;
    Timer : TON;
END_VAR
(* count rising edges *)
IF Enable AND Count < Limit THEN
    Count := Count + 1;
ELSIF Count = Limit THEN
    Count := 0;
END_IF;
Timer(IN := Enable, PT := T#500ms);
END_FUNCTION_BLOCK
`

func TestFastCheck_AcceptsWellFormed(t *testing.T) {
	f := NewFastChecker(DefaultFastOptions())
	diag, ok := f.Check(counterFB)
	assert.True(t, ok, diag)
	assert.Empty(t, diag)
}

func TestFastCheck_Rejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing END_IF",
			src: `FUNCTION_BLOCK FB_A
VAR x : INT; END_VAR
IF x > 0 THEN
    x := 0;
END_FUNCTION_BLOCK`,
			want: "line 5: unexpected END_FUNCTION_BLOCK, expected END_IF",
		},
		{
			name: "mismatched closer",
			src: `FUNCTION_BLOCK FB_A
VAR i : INT; END_VAR
FOR i := 1 TO 10 DO
    i := i;
END_IF;
END_FUNCTION_BLOCK`,
			want: "line 5: unexpected END_IF, expected END_FOR",
		},
		{
			name: "stray closer",
			src:  "FUNCTION_BLOCK FB_A\nVAR x : INT; END_VAR\nEND_FUNCTION_BLOCK\nEND_IF",
			want: "line 4: unexpected END_IF",
		},
		{
			name: "truncated",
			src:  "FUNCTION_BLOCK FB_A\nVAR x : INT; END_VAR\nWHILE x < 3 DO\n    x := x + 1;",
			want: "unexpected end of source, expected END_WHILE for WHILE opened at line 3",
		},
		{
			name: "unterminated comment",
			src:  "FUNCTION_BLOCK FB_A\nVAR x : INT; END_VAR\n(* half a comm",
			want: "line 3: unterminated comment",
		},
		{
			name: "equals assignment",
			src:  "FUNCTION_BLOCK FB_A\nVAR x : INT; END_VAR\nx = 5;\nEND_FUNCTION_BLOCK",
			want: "line 3: '=' used for assignment, expected ':='",
		},
		{
			name: "equals assignment to member",
			src:  "FUNCTION_BLOCK FB_A\nVAR m : Motor; END_VAR\nIF TRUE THEN\n  m.cmd[2] = 1;\nEND_IF;\nEND_FUNCTION_BLOCK",
			want: "line 4: '=' used for assignment",
		},
		{
			name: "dynamic array",
			src:  "FUNCTION_BLOCK FB_A\nVAR a : ARRAY[*] OF INT; END_VAR\nEND_FUNCTION_BLOCK",
			want: "line 2: dynamic ARRAY[*] is not supported",
		},
		{
			name: "missing function block",
			src:  "PROGRAM Main\nVAR x : INT; END_VAR\nx := 1;\nEND_PROGRAM",
			want: "missing FUNCTION_BLOCK declaration",
		},
		{
			name: "missing var section",
			src:  "FUNCTION_BLOCK FB_A\nEND_FUNCTION_BLOCK",
			want: "missing VAR declaration section",
		},
		{
			name: "markdown fence",
			src:  "```st\nFUNCTION_BLOCK FB_A\nEND_FUNCTION_BLOCK\n```",
			want: "line 1: markdown fence left in source",
		},
		{
			name: "empty",
			src:  "  \n\t",
			want: "empty source",
		},
	}

	f := NewFastChecker(DefaultFastOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diag, ok := f.Check(tt.src)
			require.False(t, ok)
			assert.Contains(t, diag, tt.want)
		})
	}
}

func TestFastCheck_ComparisonIsNotAssignment(t *testing.T) {
	src := `FUNCTION_BLOCK FB_A
VAR x : INT; done : BOOL; END_VAR
IF x = 5 THEN
    done := x = 5;
END_IF;
WHILE x = 0 DO
    x := 1;
END_WHILE;
REPEAT
    x := x - 1;
UNTIL x = 0
END_REPEAT;
CASE x OF
    1: done := TRUE;
ELSE
    done := FALSE;
END_CASE;
END_FUNCTION_BLOCK`
	diag, ok := NewFastChecker(DefaultFastOptions()).Check(src)
	assert.True(t, ok, diag)
}

func TestFastCheck_MemberKeywordsDoNotOpenBlocks(t *testing.T) {
	src := "FUNCTION_BLOCK FB_A\nVAR s : Step; END_VAR\ns.PROGRAM := 1;\nEND_FUNCTION_BLOCK"
	diag, ok := NewFastChecker(DefaultFastOptions()).Check(src)
	assert.True(t, ok, diag)
}

func TestFastCheck_KeywordNamedVariables(t *testing.T) {
	tests := map[string]string{
		"declared and assigned": `FUNCTION_BLOCK FB_A
VAR
    method : INT;
    resource : INT;
END_VAR
method := 1;
END_FUNCTION_BLOCK`,
		"expressions and calls": `FUNCTION_BLOCK FB_A
VAR
    method, action : INT;
    property : BOOL;
    t : TON;
END_VAR
method := action + 1;
IF method > 0 AND NOT property THEN
    action := method;
END_IF;
t(IN := property, Q => property);
END_FUNCTION_BLOCK`,
		"struct member named type": `TYPE ST_Cfg :
STRUCT
    type : INT;
    program : BOOL;
END_STRUCT
END_TYPE
FUNCTION_BLOCK FB_A
VAR cfg : ST_Cfg; END_VAR
cfg.type := 2;
END_FUNCTION_BLOCK`,
	}
	f := NewFastChecker(DefaultFastOptions())
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			diag, ok := f.Check(src)
			assert.True(t, ok, diag)
		})
	}
}

func TestFastCheck_KeywordNamedVariableEqualsAssignment(t *testing.T) {
	src := "FUNCTION_BLOCK FB_A\nVAR method : INT; END_VAR\nmethod = 1;\nEND_FUNCTION_BLOCK"
	diag, ok := NewFastChecker(DefaultFastOptions()).Check(src)
	require.False(t, ok)
	assert.Contains(t, diag, "line 3: '=' used for assignment")
}

func TestFastCheck_DeclarationBlocksStillChecked(t *testing.T) {
	good := `FUNCTION_BLOCK FB_Axis
VAR_INPUT
    xEnable : BOOL;
END_VAR
VAR
    rPos : REAL;
END_VAR
METHOD MoveTo : BOOL
VAR_INPUT
    rTarget : REAL;
END_VAR
rPos := rTarget;
MoveTo := TRUE;
END_METHOD
END_FUNCTION_BLOCK`
	f := NewFastChecker(DefaultFastOptions())
	diag, ok := f.Check(good)
	assert.True(t, ok, diag)

	diag, ok = f.Check(strings.Replace(good, "END_METHOD\n", "", 1))
	require.False(t, ok)
	assert.Contains(t, diag, "unexpected END_FUNCTION_BLOCK, expected END_METHOD")

	diag, ok = f.Check("TYPE ST_A :\nSTRUCT\n    a : INT;\nEND_TYPE\nFUNCTION_BLOCK FB_A\nVAR x : INT; END_VAR\nEND_FUNCTION_BLOCK")
	require.False(t, ok)
	assert.Contains(t, diag, "line 4: unexpected END_TYPE, expected END_STRUCT")
}

func TestFastCheck_RequiredPOUConfigurable(t *testing.T) {
	src := "PROGRAM Main\nVAR x : INT; END_VAR\nx := 1;\nEND_PROGRAM"

	f := NewFastChecker(FastOptions{RequiredPOU: "program", RequireVar: true})
	diag, ok := f.Check(src)
	assert.True(t, ok, diag)

	f = NewFastChecker(FastOptions{})
	diag, ok = f.Check("PROGRAM Main\nEND_PROGRAM")
	assert.True(t, ok, diag)
}

func TestFastCheck_DepthCeiling(t *testing.T) {
	var b strings.Builder
	b.WriteString("FUNCTION_BLOCK FB_Deep\nVAR x : BOOL; END_VAR\n")
	for i := 0; i < 100; i++ {
		b.WriteString("IF x THEN\n")
	}
	for i := 0; i < 100; i++ {
		b.WriteString("END_IF;\n")
	}
	b.WriteString("END_FUNCTION_BLOCK\n")

	diag, ok := NewFastChecker(FastOptions{MaxDepth: 64}).Check(b.String())
	require.False(t, ok)
	assert.Contains(t, diag, "nesting depth exceeds 64")

	diag, ok = NewFastChecker(FastOptions{MaxDepth: 200}).Check(b.String())
	assert.True(t, ok, diag)
}

func TestFastCheck_SizeCeiling(t *testing.T) {
	f := NewFastChecker(FastOptions{MaxSourceBytes: 32})
	diag, ok := f.Check(counterFB)
	require.False(t, ok)
	assert.Contains(t, diag, "limit is 32")
}

func TestFastCheck_AdversarialInputIsBounded(t *testing.T) {
	f := NewFastChecker(FastOptions{MaxSourceBytes: 4 << 20, RequiredPOU: "FUNCTION_BLOCK"})
	inputs := map[string]string{
		"deep if":        strings.Repeat("IF x THEN ", 300000),
		"open comments":  strings.Repeat("(*", 300000),
		"closers":        strings.Repeat("END_IF ", 300000),
		"brackets":       "x " + strings.Repeat("[", 1000000),
		"equals storm":   strings.Repeat("a = ", 300000),
		"binary garbage": strings.Repeat("\x00\xff(", 300000),
	}
	for name, src := range inputs {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			_, ok := f.Check(src)
			assert.False(t, ok)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}
