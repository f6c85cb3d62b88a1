package escrow

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// UnwindPolicy selects what cancelBidApprovalAfterDelay does to the escrow
// once the non-starting furnisher's bond has forfeited to the seeker.
type UnwindPolicy uint8

const (
	// UnwindReopen puts the escrow back to Open with a cleared assignment
	// and an empty bid list, keeping the bounty locked.
	UnwindReopen UnwindPolicy = iota + 1
	// UnwindCancel terminates the escrow and refunds the bounty.
	UnwindCancel
)

func (p UnwindPolicy) Valid() bool {
	return p == UnwindReopen || p == UnwindCancel
}

func (p UnwindPolicy) String() string {
	switch p {
	case UnwindReopen:
		return "reopen"
	case UnwindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unwind(%d)", uint8(p))
	}
}

// ParseUnwindPolicy maps the configuration spelling to a policy value.
func ParseUnwindPolicy(s string) (UnwindPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reopen":
		return UnwindReopen, nil
	case "cancel":
		return UnwindCancel, nil
	default:
		return 0, fmt.Errorf("unknown unwind policy %q", s)
	}
}

// GlobalConfig is the process-wide, immutable protocol parameter set shared
// by every role agent. Loaded once at construction, never mutated.
type GlobalConfig struct {
	// PlatformKey is the arbitration public key. DecideDispute is gated on
	// it and arbitration fees pay out to it.
	PlatformKey crypto.PubKey
	// MinBondBps is the minimum bond as basis points of the bid amount.
	MinBondBps uint32
	// DisputeWindowSecs bounds how long after completion the seeker may
	// dispute instead of approving.
	DisputeWindowSecs uint64
	// UnwindDelaySecs is how long after acceptance the seeker must wait
	// before unwinding a bid whose furnisher never started.
	UnwindDelaySecs uint64
	// CompletionGraceSecs extends the completion deadline; beyond
	// deadline+grace the furnisher may raise a stalling dispute.
	CompletionGraceSecs uint64
	// MaxDescriptionBytes caps work descriptions, plans, reports and notes.
	MaxDescriptionBytes int
	// FeeRateSatPerKB is the mining fee hint passed to the wallet.
	FeeRateSatPerKB uint64
	// UnwindPolicy selects reopen-or-cancel semantics for bid unwinds.
	UnwindPolicy UnwindPolicy
}

func (g GlobalConfig) Validate() error {
	if g.PlatformKey.IsZero() {
		return fmt.Errorf("platform key is unset")
	}
	if g.MinBondBps > 10_000 {
		return fmt.Errorf("minimum bond bps out of range: %d", g.MinBondBps)
	}
	if g.DisputeWindowSecs == 0 {
		return fmt.Errorf("dispute window must be positive")
	}
	if g.UnwindDelaySecs == 0 {
		return fmt.Errorf("unwind delay must be positive")
	}
	if g.MaxDescriptionBytes <= 0 {
		return fmt.Errorf("max description bytes must be positive")
	}
	if !g.UnwindPolicy.Valid() {
		return fmt.Errorf("invalid unwind policy: %d", uint8(g.UnwindPolicy))
	}
	return nil
}

// MinBond returns the smallest acceptable bond for a bid amount, rounding up.
func (g GlobalConfig) MinBond(bidAmount uint64) uint64 {
	if g.MinBondBps == 0 {
		return 0
	}
	bps := uint64(g.MinBondBps)
	return (bidAmount*bps + 9_999) / 10_000
}

// NormalizeText canonicalizes caller-supplied free text (NFC, trimmed) and
// enforces the configured byte cap. Contract state must be byte-identical
// however the caller's editor composed the input.
func (g GlobalConfig) NormalizeText(field, s string) (string, error) {
	out := norm.NFC.String(strings.TrimSpace(s))
	if out == "" {
		return "", invalidParamf("%s must not be empty", field)
	}
	if !utf8.ValidString(out) {
		return "", invalidParamf("%s must be valid UTF-8", field)
	}
	if len(out) > g.MaxDescriptionBytes {
		return "", invalidParamf("%s exceeds %d bytes", field, g.MaxDescriptionBytes)
	}
	return out, nil
}

// NewSeekRecord builds the initial contract state for a new escrow: Open,
// zero bids, zero bounty. The deadline must sit strictly after the current
// chain median time. Funding is not the builder's concern; the seek
// operation sets the bounty to the amount the caller locks.
func NewSeekRecord(global GlobalConfig, seeker crypto.PubKey, workDescription string, deadline uint64, now chain.Time) (*Record, error) {
	if seeker.IsZero() {
		return nil, invalidParamf("seeker key is unset")
	}
	desc, err := global.NormalizeText("work description", workDescription)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		return nil, invalidParamf("chain time is unset")
	}
	if deadline <= now.MedianTime {
		return nil, invalidParamf("deadline %d is not after chain time %d", deadline, now.MedianTime)
	}
	return &Record{
		State:       StateOpen,
		Seeker:      seeker,
		Description: desc,
		Deadline:    deadline,
		AcceptedBid: NoAcceptedBid,
	}, nil
}
