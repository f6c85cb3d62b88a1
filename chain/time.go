// Package chain tracks the ledger's notion of current time. Escrow
// transitions compare deadlines against block median time, never against the
// process wall clock, so every time-gated operation takes an explicit Time.
package chain

import (
	"context"
	"fmt"
)

// Time is a point in chain history: the tip height and the median time past
// of the last medianTimeSpan block timestamps, in unix seconds.
type Time struct {
	Height     uint32
	MedianTime uint64
}

func (t Time) IsZero() bool {
	return t == Time{}
}

func (t Time) String() string {
	return fmt.Sprintf("height=%d mtp=%d", t.Height, t.MedianTime)
}

// Tracker resolves the current chain time. Implementations query an external
// header source; tests substitute fixed values.
type Tracker interface {
	Now(ctx context.Context) (Time, error)
}

// Fixed is a Tracker pinned to one Time, for tests and replay.
type Fixed Time

func (f Fixed) Now(context.Context) (Time, error) {
	return Time(f), nil
}
