package engine

import "errors"

// Sentinel errors for the scan pipeline's error taxonomy. Callers use
// errors.Is/errors.As against these rather than matching error strings.
var (
	// ErrTargetUnreachable means the transport layer exhausted its retries
	// against the target (timeouts, connection resets).
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrOracleAmbiguous means a technique's response oracle could not
	// distinguish a true branch from a false branch for a parameter.
	ErrOracleAmbiguous = errors.New("oracle cannot distinguish true/false responses")

	// ErrDBMSUnknown means fingerprinting produced no confirmed DBMS. This is
	// a soft error: extraction may still proceed against generic templates.
	ErrDBMSUnknown = errors.New("dbms fingerprint inconclusive")

	// ErrExtractionIncomplete means a per-position extraction loop hit its
	// retry limit before resolving every character.
	ErrExtractionIncomplete = errors.New("extraction incomplete")

	// ErrAuthRequired means the baseline request returned an HTTP 401 that
	// was not listed in ScanConfig.IgnoreCodes.
	ErrAuthRequired = errors.New("target requires authentication")

	// ErrConfigInvalid means a configuration value (forced strategy name,
	// ignore-code list) failed validation at startup.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNoInjectable means the scan completed without error but found no
	// parameter vulnerable to any tested technique.
	ErrNoInjectable = errors.New("no injectable parameter found")
)
