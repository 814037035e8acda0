package trader

import "errors"

// Terminal and soft-reject conditions surfaced by the orchestrator. The soft
// conditions (duplicate, existing position, max trades) are reported as
// rejected results, not errors; the sentinels exist so callers and tests can
// distinguish them.
var (
	// ErrNoCredentials means no credential set is stored. Terminal, no retry.
	ErrNoCredentials = errors.New("no credentials stored")

	// ErrInvalidPrecision means a step or tick size was zero or negative.
	ErrInvalidPrecision = errors.New("invalid precision step")

	// ErrDuplicateInFlight means the symbol lock is already held.
	ErrDuplicateInFlight = errors.New("alert already in flight for symbol")

	// ErrExistingPosition means the exchange already reports an open
	// position for the symbol.
	ErrExistingPosition = errors.New("position already open for symbol")
)
