package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter marks caller-supplied data that fails validation
	// (past deadline, empty description, out-of-range index...). Reported to
	// the caller, never retried automatically.
	ErrInvalidParameter = errors.New("escrow: invalid parameter")

	// ErrInvariantViolation marks a computed split or balance that would
	// break value conservation. Fatal: surfaced, never silently corrected.
	ErrInvariantViolation = errors.New("escrow: invariant violation")

	// ErrDecode marks malformed on-chain data. Batch reads skip the
	// offending output; targeted reads surface it.
	ErrDecode = errors.New("escrow: decode")

	// ErrStaleState marks a broadcast rejected because the referenced output
	// was already spent. Retryable: re-read the escrow and re-attempt.
	ErrStaleState = errors.New("escrow: stale state")
)

func invalidParamf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func decodeErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
