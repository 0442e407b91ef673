package fingerprint

import "context"

// confirmThreshold is the confidence a single fingerprinter must clear
// before the registry stops probing the remaining DBMS families. It mirrors
// ghauri's fingerprint.py: a heuristic hit above this bar is worth an
// early return, rather than paying for every
// other dialect's probe traffic on a target that already looks identified.
const confirmThreshold = 0.80

// Registry walks fingerprinters in order of real-world prevalence (MySQL and
// PostgreSQL first, SQLite last) and stops at the first one that clears
// confirmThreshold, instead of always running the full set and comparing
// confidences afterward. A weak, unconfirmed hit is kept as a fallback in
// case nothing stronger turns up later in the order.
type Registry struct {
	fingerprinters []Fingerprinter
}

// NewRegistry creates a registry with all built-in fingerprinters, ordered
// most-common-first so Identify's early exit skips the least likely probes
// on a confidently identified target.
func NewRegistry() *Registry {
	return &Registry{
		fingerprinters: []Fingerprinter{
			&MySQLFingerprinter{},
			&PostgreSQLFingerprinter{},
			&mssqlFingerprinter{},
			&OracleFingerprinter{},
			&SQLiteFingerprinter{},
		},
	}
}

// Identify probes DBMS families in registry order, returning as soon as one
// clears confirmThreshold. If every probe falls short of that bar, the
// strongest weak hit (if any) is still returned rather than nothing at all.
func (r *Registry) Identify(ctx context.Context, req *FingerprintRequest) (*DBMSInfo, error) {
	var fallback *FingerprintResult

	for _, fp := range r.fingerprinters {
		result, err := fp.Fingerprint(ctx, req)
		if err != nil {
			return nil, err
		}

		if result == nil || !result.Identified {
			continue
		}

		if result.Confidence >= confirmThreshold {
			return toDBMSInfo(result), nil
		}

		if fallback == nil || result.Confidence > fallback.Confidence {
			fallback = result
		}
	}

	if fallback == nil {
		return nil, nil
	}

	return toDBMSInfo(fallback), nil
}

func toDBMSInfo(r *FingerprintResult) *DBMSInfo {
	return &DBMSInfo{
		Name:       r.DBMS,
		Version:    r.Version,
		Banner:     r.Banner,
		Confidence: r.Confidence,
	}
}

// supportedDBMS lists DBMS names that can be identified via error signatures.
// "Generic" is intentionally excluded as it does not identify a specific DBMS.
var supportedDBMS = []string{"MySQL", "PostgreSQL", "MSSQL", "Oracle", "SQLite"}

// IdentifyFromErrors uses error signatures from a heuristic scan to identify
// the DBMS without sending additional requests. This is a fast path that
// leverages the error messages already collected by the heuristic detector.
//
// It returns nil if no specific DBMS can be determined.
func IdentifyFromErrors(errorSignatures map[string][]string) *DBMSInfo {
	if len(errorSignatures) == 0 {
		return nil
	}

	var bestDBMS string
	var bestCount int

	for _, name := range supportedDBMS {
		matches, ok := errorSignatures[name]
		if !ok || len(matches) == 0 {
			continue
		}

		if len(matches) > bestCount {
			bestCount = len(matches)
			bestDBMS = name
		}
	}

	if bestDBMS == "" {
		return nil
	}

	return &DBMSInfo{
		Name:       bestDBMS,
		Confidence: 0.7,
	}
}
