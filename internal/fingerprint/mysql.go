package fingerprint

import "context"

// MySQLFingerprinter identifies MySQL backends through behavioural probing.
type MySQLFingerprinter struct{}

// DBMS returns the name of the target DBMS.
func (m *MySQLFingerprinter) DBMS() string {
	return "MySQL"
}

// mysqlChecks weights an error-signature probe against three behavioural
// probes that only MySQL accepts without complaint: SLEEP(0), the @@version
// system variable, and the base-36 CONV() function.
var mysqlChecks = []probeCheck{
	{suffix: "'", weight: 0.7, match: errorSignature("MySQL")},
	{suffix: " AND SLEEP(0)-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND @@version IS NOT NULL-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND CONV(10,10,36)='a'-- -", weight: 0.1, match: responseSimilar},
}

// Fingerprint runs mysqlChecks and reports the target as MySQL once the
// combined weight clears 0.7.
func (m *MySQLFingerprinter) Fingerprint(ctx context.Context, req *FingerprintRequest) (*FingerprintResult, error) {
	confidence, err := runProbeChecks(ctx, req.Client, req.Target, req.Parameter, req.Baseline, mysqlChecks)
	if err != nil {
		return nil, err
	}
	return &FingerprintResult{
		DBMS:       "MySQL",
		Confidence: confidence,
		Identified: confidence >= 0.7,
	}, nil
}
