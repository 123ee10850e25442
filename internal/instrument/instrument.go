//
// Copyright 2024 The Kernel Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package instrument rewrites process source text so that cooperative
// yield checkpoints are injected at the points the scheduler needs to
// regain control. It never executes code; it is a pure text transform run
// once, at spawn time (and again, transparently, whenever the sandbox's
// dynamic-code loader compiles a new chunk at runtime).
package instrument

import (
	"fmt"
	"strings"
	"time"
)

// Checkpoint is the call the instrumenter injects after every yield-bearing
// keyword. It is a fixed literal, not user-configurable, so that the
// idempotence property (instrumenting twice is a no-op) can be checked by a
// simple string match.
const Checkpoint = "__pc();"

// CheckInterval and Quantum are the cadence constants every injected
// checkpoint is specified against (§4.1(a)-(c)): the counter threshold at
// which a checkpoint does any work at all, and the wall-clock slice after
// which it cooperatively yields. internal/sched implements the checkpoint
// state machine these constants parametrize; they live here because they
// describe what the instrumenter's output means, not how the scheduler
// happens to execute it.
const (
	CheckInterval = 256
	Quantum       = 50 * time.Millisecond
)

// keywords are injected after when found as a whole word at top-level code.
// "elseif" deliberately is not in this set and the whole-word scan below
// ensures "else" never matches the first four bytes of "elseif".
var keywords = map[string]bool{
	"do":     true,
	"then":   true,
	"else":   true,
	"repeat": true,
}

// ParseError reports a malformed source file: an unterminated string or
// long-bracketed comment. The kernel refuses to spawn a process whose
// source produces one of these.
type ParseError struct {
	Name string
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Name, e.Line, e.Col, e.Msg)
}

type scanMode int

const (
	modeCode scanMode = iota
	modeLineComment
	modeLongComment
	modeLongString
	modeShortString
)

// Instrument rewrites source, returning the transformed text and the number
// of checkpoints injected. name is used only to label parse errors.
func Instrument(source, name string) (string, int, error) {
	s := &scanner{src: source, name: name, line: 1, col: 1}
	return s.run()
}

type scanner struct {
	src      string
	name     string
	i        int
	line     int
	col      int
	out      strings.Builder
	count    int
	mode     scanMode
	quote    byte
	level    int // '=' count of the long bracket currently open
	openLine int
	openCol  int
}

func (s *scanner) run() (string, int, error) {
	n := len(s.src)
	for s.i < n {
		switch s.mode {
		case modeCode:
			if err := s.stepCode(); err != nil {
				return s.out.String(), s.count, err
			}
		case modeLineComment:
			s.stepLineComment()
		case modeLongComment:
			if err := s.stepLongBracket(true); err != nil {
				return s.out.String(), s.count, err
			}
		case modeLongString:
			if err := s.stepLongBracket(false); err != nil {
				return s.out.String(), s.count, err
			}
		case modeShortString:
			if err := s.stepShortString(); err != nil {
				return s.out.String(), s.count, err
			}
		}
	}

	if s.mode != modeCode {
		return s.out.String(), s.count, &ParseError{
			Name: s.name,
			Line: s.openLine,
			Col:  s.openCol,
			Msg:  "unterminated string or comment",
		}
	}

	return s.out.String(), s.count, nil
}

func (s *scanner) peek(off int) byte {
	if s.i+off >= len(s.src) {
		return 0
	}
	return s.src[s.i+off]
}

func (s *scanner) advance() byte {
	c := s.src[s.i]
	s.i++
	if c == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return c
}

func (s *scanner) stepCode() error {
	c := s.peek(0)

	switch {
	case c == '-' && s.peek(1) == '-':
		startLine, startCol := s.line, s.col
		s.out.WriteByte(s.advance())
		s.out.WriteByte(s.advance())

		if level, length, ok := matchLongBracketOpen(s.src, s.i); ok {
			s.writeRunes(length)
			s.mode = modeLongComment
			s.level = level
			s.openLine, s.openCol = startLine, startCol
		} else {
			s.mode = modeLineComment
		}
		return nil

	case c == '[':
		if level, length, ok := matchLongBracketOpen(s.src, s.i); ok {
			startLine, startCol := s.line, s.col
			s.writeRunes(length)
			s.mode = modeLongString
			s.level = level
			s.openLine, s.openCol = startLine, startCol
			return nil
		}
		s.out.WriteByte(s.advance())
		return nil

	case c == '"' || c == '\'':
		s.openLine, s.openCol = s.line, s.col
		s.quote = c
		s.out.WriteByte(s.advance())
		s.mode = modeShortString
		return nil

	case isIdentStart(c):
		start := s.i
		for isIdentChar(s.peek(0)) {
			s.advance()
		}
		word := s.src[start:s.i]
		s.out.WriteString(word)

		if keywords[word] {
			s.maybeInject()
		}
		return nil

	default:
		s.out.WriteByte(s.advance())
		return nil
	}
}

// maybeInject appends the checkpoint call unless one is already present
// (modulo intervening horizontal whitespace), which keeps a second
// instrumentation pass a no-op.
func (s *scanner) maybeInject() {
	j := s.i
	for j < len(s.src) && (s.src[j] == ' ' || s.src[j] == '\t') {
		j++
	}
	if strings.HasPrefix(s.src[j:], Checkpoint) {
		return
	}
	s.out.WriteByte(' ')
	s.out.WriteString(Checkpoint)
	s.count++
}

func (s *scanner) stepLineComment() {
	c := s.advance()
	s.out.WriteByte(c)
	if c == '\n' {
		s.mode = modeCode
	}
}

func (s *scanner) stepLongBracket(isComment bool) error {
	if length, ok := matchLongBracketClose(s.src, s.i, s.level); ok {
		s.writeRunes(length)
		s.mode = modeCode
		return nil
	}
	s.out.WriteByte(s.advance())
	return nil
}

func (s *scanner) stepShortString() error {
	c := s.peek(0)

	if c == '\\' {
		s.out.WriteByte(s.advance())
		if s.i < len(s.src) {
			s.out.WriteByte(s.advance())
		}
		return nil
	}

	if c == '\n' {
		return &ParseError{
			Name: s.name,
			Line: s.openLine,
			Col:  s.openCol,
			Msg:  "unterminated string",
		}
	}

	if c == s.quote {
		s.out.WriteByte(s.advance())
		s.mode = modeCode
		return nil
	}

	s.out.WriteByte(s.advance())
	return nil
}

func (s *scanner) writeRunes(n int) {
	for k := 0; k < n; k++ {
		s.out.WriteByte(s.advance())
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// matchLongBracketOpen checks whether src[i:] begins a long-bracket opener
// "[=*[" and returns the equals-count and the opener's byte length.
func matchLongBracketOpen(src string, i int) (level, length int, ok bool) {
	if i >= len(src) || src[i] != '[' {
		return 0, 0, false
	}
	j := i + 1
	eq := 0
	for j < len(src) && src[j] == '=' {
		eq++
		j++
	}
	if j >= len(src) || src[j] != '[' {
		return 0, 0, false
	}
	return eq, j - i + 1, true
}

// matchLongBracketClose checks whether src[i:] closes a long bracket opened
// at the given equals-level: "]=*]" with exactly level equals signs.
func matchLongBracketClose(src string, i, level int) (length int, ok bool) {
	if i >= len(src) || src[i] != ']' {
		return 0, false
	}
	j := i + 1
	eq := 0
	for j < len(src) && src[j] == '=' {
		eq++
		j++
	}
	if eq != level || j >= len(src) || src[j] != ']' {
		return 0, false
	}
	return j - i + 1, true
}
