package fingerprint

import "context"

// SQLiteFingerprinter identifies SQLite backends through behavioural probing.
type SQLiteFingerprinter struct{}

// DBMS returns the name of the target DBMS.
func (s *SQLiteFingerprinter) DBMS() string {
	return "SQLite"
}

var sqliteChecks = []probeCheck{
	{suffix: "'", weight: 0.7, match: errorSignature("SQLite")},
	{suffix: " AND sqlite_version() IS NOT NULL-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND typeof(1)='integer'-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND length(randomblob(1))=1-- -", weight: 0.1, match: responseSimilar},
}

// Fingerprint runs sqliteChecks: an error-signature probe plus
// sqlite_version(), typeof(), and randomblob(), all SQLite built-ins with
// no equivalent in the other four dialects.
func (s *SQLiteFingerprinter) Fingerprint(ctx context.Context, req *FingerprintRequest) (*FingerprintResult, error) {
	confidence, err := runProbeChecks(ctx, req.Client, req.Target, req.Parameter, req.Baseline, sqliteChecks)
	if err != nil {
		return nil, err
	}
	return &FingerprintResult{
		DBMS:       "SQLite",
		Confidence: confidence,
		Identified: confidence >= 0.7,
	}, nil
}
