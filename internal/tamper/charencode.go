package tamper

import (
	"fmt"
	"strings"
)

// charEncodeTamper hex-encodes non-alphanumeric, non-safe characters in the
// payload using %XX notation. This can bypass WAFs that match on literal
// SQL special characters.
//
// Safe characters (left unchanged): A-Z a-z 0-9 _ - . * ~
//
// Example:
//
//	"' OR 1=1--" â†’ "%27%20OR%201%3D1--"
type charEncodeTamper struct{}

func (t *charEncodeTamper) Name() string       { return "charencode" }
func (t *charEncodeTamper) Stage() Stage       { return StageInjection }
func (t *charEncodeTamper) Priority() int      { return 40 }
func (t *charEncodeTamper) AppliesTo() []string { return nil }

func (t *charEncodeTamper) Apply(s string, _ Context) Result {
	var b strings.Builder
	b.Grow(len(s) * 2)
	changed := false
	for _, ch := range s {
		if isSafeChar(ch) {
			b.WriteRune(ch)
		} else {
			fmt.Fprintf(&b, "%%%02X", ch)
			changed = true
		}
	}
	if !changed {
		return Result{Payload: s, Confidence: 1.0}
	}
	return Result{Payload: b.String(), Applied: []string{t.Name()}, Confidence: 0.8}
}

// isSafeChar returns true for characters that do NOT need to be encoded.
// These are: alphanumerics, and the set _ - . * ~
func isSafeChar(r rune) bool {
	return (r >= 'A' && r <= 'Z') ||
		(r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-' || r == '.' || r == '*' || r == '~'
}
