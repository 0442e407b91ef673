package tamper

import (
	"math/rand"
	"regexp"
	"strings"
)

// randomCaseKeywords is the set of SQL keywords eligible for case
// randomization. Matching is case-insensitive.
var randomCaseKeywords = map[string]bool{
	"SELECT": true, "UNION": true, "ALL": true, "FROM": true, "WHERE": true,
	"AND": true, "OR": true, "SLEEP": true, "BENCHMARK": true, "WAITFOR": true,
	"DELAY": true, "IF": true, "CASE": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// randomCaseTamper randomizes the letter case of SQL keywords to defeat WAF
// signatures that match on a fixed case convention.
//
// Example:
//
//	"UNION SELECT NULL" → "uNiON SeLEct NULL"
type randomCaseTamper struct{}

func (t *randomCaseTamper) Name() string       { return "randomcase" }
func (t *randomCaseTamper) Stage() Stage       { return StageInjection }
func (t *randomCaseTamper) Priority() int      { return 20 }
func (t *randomCaseTamper) AppliesTo() []string { return nil }

func (t *randomCaseTamper) Apply(s string, _ Context) Result {
	changed := false
	out := wordPattern.ReplaceAllStringFunc(s, func(word string) string {
		if !randomCaseKeywords[strings.ToUpper(word)] {
			return word
		}
		changed = true
		return randomizeCase(word)
	})
	if !changed {
		return Result{Payload: s, Confidence: 1.0}
	}
	return Result{Payload: out, Applied: []string{t.Name()}, Confidence: 0.75}
}

func randomizeCase(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	for _, r := range word {
		if rand.Intn(2) == 0 {
			b.WriteRune(toUpperRune(r))
		} else {
			b.WriteRune(toLowerRune(r))
		}
	}
	return b.String()
}

func toUpperRune(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
