package fingerprint

import "context"

// PostgreSQLFingerprinter identifies PostgreSQL backends through behavioural probing.
type PostgreSQLFingerprinter struct{}

// DBMS returns the name of the target DBMS.
func (p *PostgreSQLFingerprinter) DBMS() string {
	return "PostgreSQL"
}

var postgresChecks = []probeCheck{
	{suffix: "'", weight: 0.7, match: errorSignature("PostgreSQL")},
	{suffix: " AND pg_sleep(0) IS NOT NULL-- -", weight: 0.1, match: responseSimilar},
	{suffix: "::int", weight: 0.1, match: responseSimilar},
	{suffix: " AND CURRENT_SETTING('server_version') IS NOT NULL-- -", weight: 0.1, match: responseSimilar},
}

// Fingerprint runs postgresChecks: an error-signature probe plus
// pg_sleep(0), the ::int cast operator, and CURRENT_SETTING, each of which
// PostgreSQL accepts and most other dialects reject outright.
func (p *PostgreSQLFingerprinter) Fingerprint(ctx context.Context, req *FingerprintRequest) (*FingerprintResult, error) {
	confidence, err := runProbeChecks(ctx, req.Client, req.Target, req.Parameter, req.Baseline, postgresChecks)
	if err != nil {
		return nil, err
	}
	return &FingerprintResult{
		DBMS:       "PostgreSQL",
		Confidence: confidence,
		Identified: confidence >= 0.7,
	}, nil
}
