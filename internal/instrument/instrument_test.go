package instrument

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectsAfterDo(t *testing.T) {
	out, count, err := Instrument("while x do foo(); end", "t")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "while x do __pc(); foo(); end", out)
}

func TestInjectsAfterThenElseRepeat(t *testing.T) {
	out, count, err := Instrument("if x then a() else b() end repeat c() until x", "t")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Contains(t, out, "then __pc();")
	assert.Contains(t, out, "else __pc();")
	assert.Contains(t, out, "repeat __pc();")
}

func TestDoesNotMatchElseif(t *testing.T) {
	out, count, err := Instrument("if x then a() elseif y then b() end", "t")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NotContains(t, out, "elseif __pc()")
}

func TestWholeWordOnly(t *testing.T) {
	out, count, err := Instrument("redo() done() do_x()", "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "redo() done() do_x()", out)
}

func TestIgnoresShortString(t *testing.T) {
	out, count, err := Instrument(`x = "do"`, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, `x = "do"`, out)
}

func TestIgnoresLineComment(t *testing.T) {
	out, count, err := Instrument("--do\nfoo()", "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "--do\nfoo()", out)
}

func TestIgnoresLongComment(t *testing.T) {
	out, count, err := Instrument("--[[ do ]]\nfoo()", "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "--[[ do ]]\nfoo()", out)
}

func TestIgnoresLongStringWithLevel(t *testing.T) {
	out, count, err := Instrument("x = [=[ do ]=]", "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "x = [=[ do ]=]", out)
}

func TestMismatchedLongBracketLevelNotClosed(t *testing.T) {
	// "]]" does not close a level-1 "[=[" bracket.
	_, _, err := Instrument("x = [=[ do ]]", "t")
	require.Error(t, err)
}

func TestUnterminatedStringIsParseError(t *testing.T) {
	_, _, err := Instrument("x = \"unterminated", "t")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Line)
}

func TestUnterminatedLongCommentReportsOpenLocation(t *testing.T) {
	_, _, err := Instrument("foo()\n--[[ never closes", "t")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
}

func TestIdempotent(t *testing.T) {
	first, n1, err := Instrument("while x do foo(); end", "t")
	require.NoError(t, err)

	second, n2, err := Instrument(first, "t")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, n1, 1)
	assert.Equal(t, n2, 0)
}

func TestEscapedQuoteInsideString(t *testing.T) {
	out, count, err := Instrument(`x = "a \" do b"`, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.True(t, strings.Contains(out, `do b"`))
}
