package detector

import (
	"strings"

	"github.com/0x6d61/sqleech/internal/transport"
)

// OracleCase identifies which response-oracle decision rule produced a
// match verdict, for diagnostics/evidence strings.
type OracleCase int

const (
	CaseNone OracleCase = iota
	CaseUserCode
	CaseUserMatchString
	CaseStatusDivergence
	CaseContentLength
	CaseTextSimilarity
)

func (c OracleCase) String() string {
	switch c {
	case CaseUserCode:
		return "user-code"
	case CaseUserMatchString:
		return "user-match-string"
	case CaseStatusDivergence:
		return "status-divergence"
	case CaseContentLength:
		return "content-length"
	case CaseTextSimilarity:
		return "text-similarity"
	default:
		return "none"
	}
}

// textSimilarityThreshold is the ratio a probe response must clear against
// the baseline for the text-similarity decision rule to call it a match.
const textSimilarityThreshold = 0.98

// ResponseOracle decides whether a probe response "matches" a baseline
// response, trying decision rules in a fixed priority order: a user-supplied
// status code, a user-supplied match/not-match string, HTTP status
// divergence, exact content-length equality, then rendered/raw text
// similarity. The first applicable rule wins -- later rules are never
// consulted, even if the winning rule reports no match, since an explicit
// --code or --string override means the caller has already told the oracle
// how to decide and a length or similarity fluke shouldn't override that.
type ResponseOracle struct {
	// Code, when non-zero, is the HTTP status code a TRUE probe is expected
	// to return (the --code option).
	Code int

	// MatchString, when set, must appear in the response body for a match
	// (the --string option).
	MatchString string

	// NotMatchString, when set, must be absent from the response body for
	// a match (the --not-string option).
	NotMatchString string

	diffEngine *DiffEngine
}

// NewResponseOracle creates a ResponseOracle whose text-similarity fallback
// uses engine (so --text-only composes with the oracle automatically).
func NewResponseOracle(engine *DiffEngine) *ResponseOracle {
	return &ResponseOracle{diffEngine: engine}
}

// IsMatch reports whether resp matches baseline under the first applicable
// decision rule, and which rule decided it.
func (o *ResponseOracle) IsMatch(baseline, resp *transport.Response) (bool, OracleCase) {
	if o.Code != 0 {
		return resp.StatusCode == o.Code, CaseUserCode
	}
	if o.MatchString != "" {
		return strings.Contains(string(resp.Body), o.MatchString), CaseUserMatchString
	}
	if o.NotMatchString != "" {
		return !strings.Contains(string(resp.Body), o.NotMatchString), CaseUserMatchString
	}
	if resp.StatusCode != baseline.StatusCode {
		return false, CaseStatusDivergence
	}
	if len(resp.Body) == len(baseline.Body) {
		return true, CaseContentLength
	}
	ratio := o.diffEngine.Ratio(baseline.Body, resp.Body)
	return ratio >= textSimilarityThreshold, CaseTextSimilarity
}
