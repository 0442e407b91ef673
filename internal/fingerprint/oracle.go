package fingerprint

import "context"

// OracleFingerprinter identifies Oracle backends through behavioural probing.
type OracleFingerprinter struct{}

// DBMS returns the name of the target DBMS.
func (o *OracleFingerprinter) DBMS() string {
	return "Oracle"
}

var oracleChecks = []probeCheck{
	{suffix: "'", weight: 0.7, match: errorSignature("Oracle")},
	{suffix: " AND (SELECT INSTR2(NULL,NULL) FROM DUAL) IS NULL-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND 1=(SELECT 1 FROM DUAL)-- -", weight: 0.1, match: responseSimilar},
	{suffix: " AND BITAND(5,3)=1-- -", weight: 0.1, match: responseSimilar},
}

// Fingerprint runs oracleChecks: an ORA-xxxxx error-signature probe plus the
// Oracle-only INSTR2, FROM DUAL, and BITAND constructs.
func (o *OracleFingerprinter) Fingerprint(ctx context.Context, req *FingerprintRequest) (*FingerprintResult, error) {
	confidence, err := runProbeChecks(ctx, req.Client, req.Target, req.Parameter, req.Baseline, oracleChecks)
	if err != nil {
		return nil, err
	}
	return &FingerprintResult{
		DBMS:       "Oracle",
		Confidence: confidence,
		Identified: confidence >= 0.7,
	}, nil
}
