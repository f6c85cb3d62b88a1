package escrow

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// State enumerates the lifecycle states of an escrow contract instance.
type State uint8

const (
	StateOpen State = iota
	StateAssigned
	StateInProgress
	StateCompleted
	StateDisputed
	StateResolvedApproved
	StateResolvedDisputed
)

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	switch s {
	case StateOpen, StateAssigned, StateInProgress, StateCompleted,
		StateDisputed, StateResolvedApproved, StateResolvedDisputed:
		return true
	default:
		return false
	}
}

// Resolved reports whether the escrow has reached a payout state. Resolved
// escrows accept claim spends only; no further transitions change the split.
func (s State) Resolved() bool {
	return s == StateResolvedApproved || s == StateResolvedDisputed
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAssigned:
		return "assigned"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateDisputed:
		return "disputed"
	case StateResolvedApproved:
		return "resolved_approved"
	case StateResolvedDisputed:
		return "resolved_disputed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState maps a state name back to its value. Names are the exact
// strings State.String produces.
func ParseState(s string) (State, error) {
	switch s {
	case "open":
		return StateOpen, nil
	case "assigned":
		return StateAssigned, nil
	case "in_progress":
		return StateInProgress, nil
	case "completed":
		return StateCompleted, nil
	case "disputed":
		return StateDisputed, nil
	case "resolved_approved":
		return StateResolvedApproved, nil
	case "resolved_disputed":
		return StateResolvedDisputed, nil
	default:
		return 0, fmt.Errorf("unknown escrow state %q", s)
	}
}

// Role identifies which party an agent (and its derived key) acts as.
type Role uint8

const (
	RoleSeeker Role = iota + 1
	RoleFurnisher
	RolePlatform
)

func (r Role) String() string {
	switch r {
	case RoleSeeker:
		return "seeker"
	case RoleFurnisher:
		return "furnisher"
	case RolePlatform:
		return "platform"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Outpoint locates an escrow contract output on chain. The outpoint is the
// escrow's identity: spending it and re-creating the state in output 0 of the
// spending transaction advances the same logical escrow under a new outpoint.
type Outpoint struct {
	TxID chainhash.Hash
	Vout uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

func (o Outpoint) IsZero() bool {
	return o == Outpoint{}
}

// Bid is one furnisher's offer against an Open escrow. The bond backs the
// offer and is locked into the contract alongside the bounty.
type Bid struct {
	Furnisher    crypto.PubKey
	Amount       uint64
	Plan         string
	TimeRequired uint64
	Bond         uint64
}

// Resolution is the platform's binding payout split for a disputed escrow.
// Any remainder between the prior locked value and the two shares is the
// platform's arbitration fee, paid out when the decision is recorded.
type Resolution struct {
	AmountForSeeker    uint64
	AmountForFurnisher uint64
	Notes              string
}

// NoAcceptedBid marks a record whose seeker has not accepted any bid.
const NoAcceptedBid = -1

// Record is the decoded state of one escrow instance at a point in chain
// history. Times are ledger median-time seconds, never wall clock.
type Record struct {
	State       State
	Seeker      crypto.PubKey
	Furnisher   crypto.PubKey
	Description string
	Deadline    uint64
	Bounty      uint64
	Bids        []Bid
	AcceptedBid int
	AcceptedAt  uint64
	WorkReport  string
	CompletedAt uint64
	Evidence    crypto.Digest
	Resolution  *Resolution
}

// Clone returns a deep copy so callers can mutate freely without affecting
// the decoded instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Bids != nil {
		clone.Bids = make([]Bid, len(r.Bids))
		copy(clone.Bids, r.Bids)
	}
	if r.Resolution != nil {
		res := *r.Resolution
		clone.Resolution = &res
	}
	return &clone
}

// AcceptedBidRef returns the accepted bid, or nil when none is accepted or
// the stored index is out of range.
func (r *Record) AcceptedBidRef() *Bid {
	if r.AcceptedBid == NoAcceptedBid {
		return nil
	}
	if r.AcceptedBid < 0 || r.AcceptedBid >= len(r.Bids) {
		return nil
	}
	return &r.Bids[r.AcceptedBid]
}

// TotalLocked computes the satoshis the contract output must carry for this
// record: bounty plus every outstanding bond before assignment, bounty plus
// the accepted bond afterwards, and the unclaimed shares once resolved by
// dispute. Fails on arithmetic overflow or an inconsistent record.
func (r *Record) TotalLocked() (uint64, error) {
	switch r.State {
	case StateOpen:
		total := r.Bounty
		for i := range r.Bids {
			var err error
			total, err = addSats(total, r.Bids[i].Bond)
			if err != nil {
				return 0, err
			}
		}
		return total, nil
	case StateAssigned, StateInProgress, StateCompleted, StateDisputed, StateResolvedApproved:
		bid := r.AcceptedBidRef()
		if bid == nil {
			return 0, fmt.Errorf("state %s without an accepted bid", r.State)
		}
		return addSats(r.Bounty, bid.Bond)
	case StateResolvedDisputed:
		if r.Resolution == nil {
			return 0, fmt.Errorf("state %s without a resolution", r.State)
		}
		return addSats(r.Resolution.AmountForSeeker, r.Resolution.AmountForFurnisher)
	default:
		return 0, fmt.Errorf("invalid state: %d", uint8(r.State))
	}
}

func addSats(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("satoshi amount overflow")
	}
	return sum, nil
}

// SanitizeRecord validates per-state field consistency and returns a clone.
// It is the shared gate between the codec (reading untrusted chain data) and
// the engine (before committing a computed next state).
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("nil record")
	}
	if !r.State.Valid() {
		return nil, fmt.Errorf("invalid state: %d", uint8(r.State))
	}
	if r.Seeker.IsZero() {
		return nil, fmt.Errorf("seeker key is unset")
	}
	if r.Description == "" {
		return nil, fmt.Errorf("work description is empty")
	}
	if r.Deadline == 0 {
		return nil, fmt.Errorf("deadline is unset")
	}
	clone := r.Clone()
	for i := range clone.Bids {
		b := &clone.Bids[i]
		if b.Furnisher.IsZero() {
			return nil, fmt.Errorf("bid %d: furnisher key is unset", i)
		}
		if b.Amount == 0 {
			return nil, fmt.Errorf("bid %d: amount must be positive", i)
		}
	}
	switch clone.State {
	case StateOpen:
		if !clone.Furnisher.IsZero() {
			return nil, fmt.Errorf("open escrow with a bound furnisher")
		}
		if clone.AcceptedBid != NoAcceptedBid {
			return nil, fmt.Errorf("open escrow with an accepted bid")
		}
	case StateAssigned, StateInProgress, StateCompleted, StateDisputed, StateResolvedApproved:
		bid := clone.AcceptedBidRef()
		if bid == nil {
			return nil, fmt.Errorf("state %s requires an accepted bid in range", clone.State)
		}
		if clone.Furnisher.IsZero() || !clone.Furnisher.Equal(bid.Furnisher) {
			return nil, fmt.Errorf("bound furnisher does not match the accepted bid")
		}
		if clone.AcceptedAt == 0 {
			return nil, fmt.Errorf("state %s without an acceptance time", clone.State)
		}
	case StateResolvedDisputed:
		if clone.Resolution == nil {
			return nil, fmt.Errorf("resolved dispute without a resolution")
		}
		total, err := addSats(clone.Resolution.AmountForSeeker, clone.Resolution.AmountForFurnisher)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			return nil, fmt.Errorf("resolved dispute with nothing left to claim")
		}
	}
	switch clone.State {
	case StateCompleted, StateResolvedApproved:
		if clone.WorkReport == "" || clone.CompletedAt == 0 {
			return nil, fmt.Errorf("state %s requires a completion report", clone.State)
		}
	case StateDisputed:
		if clone.Evidence.IsZero() {
			return nil, fmt.Errorf("disputed escrow without evidence")
		}
	}
	if clone.State != StateResolvedDisputed && clone.Resolution != nil {
		return nil, fmt.Errorf("state %s carries a resolution", clone.State)
	}
	return clone, nil
}

// Tx is an EscrowRecord paired with its on-chain coordinates and the raw
// output data needed to spend it in the next transition. Transient: held
// between one read and the next write, never cached, because another party
// may spend the same output concurrently.
type Tx struct {
	Outpoint      Outpoint
	Satoshis      uint64
	LockingScript []byte
	SourceTx      []byte
	Record        *Record
}

// Clone deep-copies the escrow transaction snapshot.
func (t *Tx) Clone() *Tx {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Record = t.Record.Clone()
	if t.LockingScript != nil {
		clone.LockingScript = append([]byte(nil), t.LockingScript...)
	}
	if t.SourceTx != nil {
		clone.SourceTx = append([]byte(nil), t.SourceTx...)
	}
	return &clone
}
