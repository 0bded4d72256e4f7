// Package matcher compiles the response and disconnect patterns of a round
// and tests inbound text against them.
//
// Patterns are .NET/Java flavoured regular expressions (lookaround and
// backreferences compile) and are matched anywhere in the text, never
// anchored to the whole message.
package matcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single Find call
const DefaultMatchTimeout = 2 * time.Second

// Pattern is a compiled find-anywhere regular expression
type Pattern struct {
	expr string
	re   *regexp2.Regexp
}

// Compile compiles expr. An empty expression means "no pattern" and yields
// nil without error.
func Compile(expr string) (*Pattern, error) {
	return CompileWithTimeout(expr, DefaultMatchTimeout)
}

// CompileWithTimeout is Compile with an explicit per-match timeout
func CompileWithTimeout(expr string, timeout time.Duration) (*Pattern, error) {
	if expr == "" {
		return nil, nil
	}

	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	if timeout > 0 {
		re.MatchTimeout = timeout
	}

	return &Pattern{expr: expr, re: re}, nil
}

// String returns the source expression
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Find reports whether the pattern occurs anywhere in text.
// A nil pattern reports false; callers apply their own default for absent
// patterns. A match that hits the timeout is returned as an error.
func (p *Pattern) Find(text string) (bool, error) {
	if p == nil {
		return false, nil
	}

	ok, err := p.re.MatchString(text)
	if err != nil {
		return false, fmt.Errorf("pattern %q: %w", p.expr, err)
	}
	return ok, nil
}

// Pair holds the two patterns a session tests each message against
type Pair struct {
	Response   *Pattern
	Disconnect *Pattern

	note func(string)
}

// CompilePair compiles both patterns and notes which ones are in use.
// An invalid pattern is reported through note and degrades to nil; it never
// fails the pair.
func CompilePair(response, disconnect string, note func(string)) Pair {
	if note == nil {
		note = func(string) {}
	}
	pair := Pair{note: note}

	note(fmt.Sprintf("Using response message pattern %q", response))
	if p, err := Compile(response); err != nil {
		note(fmt.Sprintf("Invalid response message regular expression pattern: %v", err))
	} else {
		pair.Response = p
	}

	note(fmt.Sprintf("Using disconnect pattern %q", disconnect))
	if p, err := Compile(disconnect); err != nil {
		note(fmt.Sprintf("Invalid disconnect regular expression pattern: %v", err))
	} else {
		pair.Disconnect = p
	}

	return pair
}

// MatchesResponse applies the response default: an absent pattern matches
// every message.
func (p Pair) MatchesResponse(text string) bool {
	if p.Response == nil {
		return true
	}
	return p.find(p.Response, text)
}

// MatchesDisconnect applies the disconnect default: an absent pattern never
// matches.
func (p Pair) MatchesDisconnect(text string) bool {
	if p.Disconnect == nil {
		return false
	}
	return p.find(p.Disconnect, text)
}

func (p Pair) find(pat *Pattern, text string) bool {
	ok, err := pat.Find(text)
	if err != nil {
		if p.note != nil {
			p.note(fmt.Sprintf("Pattern evaluation abandoned: %v", errors.Unwrap(err)))
		}
		return false
	}
	return ok
}
