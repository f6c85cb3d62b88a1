package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

var (
	errNilWallet      = errors.New("escrow engine: wallet not configured")
	errNilBroadcaster = errors.New("escrow engine: broadcaster not configured")
)

// Engine is the escrow state machine. It validates role and state
// preconditions, computes successor states and output amounts, and drives
// every transition through the invocation protocol. The engine holds no
// escrow state of its own: each operation takes the caller's current Tx
// snapshot and the chain's time where a transition is time-gated.
type Engine struct {
	global  GlobalConfig
	wallet  Wallet
	caster  Broadcaster
	emitter Emitter
}

// NewEngine wires the state machine to its collaborators.
func NewEngine(global GlobalConfig, wallet Wallet, caster Broadcaster) (*Engine, error) {
	if err := global.Validate(); err != nil {
		return nil, fmt.Errorf("escrow engine: config: %w", err)
	}
	if wallet == nil {
		return nil, errNilWallet
	}
	if caster == nil {
		return nil, errNilBroadcaster
	}
	return &Engine{
		global:  global,
		wallet:  wallet,
		caster:  caster,
		emitter: NoopEmitter{},
	}, nil
}

// Global returns the engine's protocol parameters.
func (e *Engine) Global() GlobalConfig { return e.global }

// Wallet returns the signing wallet the engine was built with. Agents use it
// to derive their role keys.
func (e *Engine) Wallet() Wallet { return e.wallet }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

// checkPrior validates the escrow snapshot an operation wants to advance:
// present, sanitized, in one of the allowed states, and carrying exactly the
// satoshis its record accounts for.
func (e *Engine) checkPrior(prior *Tx, allowed ...State) (*Record, error) {
	if prior == nil || prior.Record == nil {
		return nil, invalidParamf("prior escrow state is required")
	}
	if prior.Outpoint.IsZero() {
		return nil, invalidParamf("prior escrow outpoint is unset")
	}
	rec, err := SanitizeRecord(prior.Record)
	if err != nil {
		return nil, invalidParamf("prior escrow: %v", err)
	}
	ok := false
	for _, s := range allowed {
		if rec.State == s {
			ok = true
			break
		}
	}
	if !ok {
		return nil, invalidParamf("escrow is %s, not %s", rec.State, statesList(allowed))
	}
	locked, err := rec.TotalLocked()
	if err != nil {
		return nil, invariantf("%v", err)
	}
	if locked != prior.Satoshis {
		return nil, invariantf("output carries %d sat, record accounts for %d", prior.Satoshis, locked)
	}
	return rec, nil
}

func statesList(states []State) string {
	out := ""
	for i, s := range states {
		if i > 0 {
			out += " or "
		}
		out += s.String()
	}
	return out
}

func requireTime(now chain.Time) error {
	if now.IsZero() {
		return invalidParamf("chain time is unset")
	}
	return nil
}

func u64arg(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func boolArg(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func lockTimeFrom(secs uint64) (uint32, error) {
	if secs > math.MaxUint32 {
		return 0, invalidParamf("lock time %d is not representable", secs)
	}
	return uint32(secs), nil
}

func timeAfter(base, delta uint64) (uint64, error) {
	at := base + delta
	if at < base {
		return 0, invalidParamf("time window overflows")
	}
	return at, nil
}

// Seek creates a new escrow: Open state, the caller's bounty locked, no
// bids. The wallet funds the bounty.
func (e *Engine) Seek(ctx context.Context, seeker crypto.PubKey, description string, deadline, bounty uint64, now chain.Time) (*Receipt, error) {
	if bounty == 0 {
		return nil, invalidParamf("bounty must be positive")
	}
	rec, err := NewSeekRecord(e.global, seeker, description, deadline, now)
	if err != nil {
		return nil, err
	}
	rec.Bounty = bounty
	return e.invoke(ctx, call{
		method:     MethodSeek,
		actor:      RoleSeeker,
		args:       [][]byte{u64arg(deadline), u64arg(bounty)},
		next:       rec,
		nextAmount: bounty,
		topUp:      bounty,
		sequence:   seqFinal,
		event:      EventTypeSought,
	})
}

// BidParams is one furnisher offer: the price, the plan, the time estimate
// and the bond backing it.
type BidParams struct {
	Amount       uint64
	Plan         string
	TimeRequired uint64
	Bond         uint64
}

// PlaceBid appends a bid to an Open escrow and locks the bidder's bond into
// the contract alongside the bounty.
func (e *Engine) PlaceBid(ctx context.Context, furnisher crypto.PubKey, prior *Tx, bid BidParams) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateOpen)
	if err != nil {
		return nil, err
	}
	if furnisher.IsZero() {
		return nil, invalidParamf("furnisher key is unset")
	}
	if bid.Amount == 0 {
		return nil, invalidParamf("bid amount must be positive")
	}
	if min := e.global.MinBond(bid.Amount); bid.Bond < min {
		return nil, invalidParamf("bond %d below minimum %d for bid of %d", bid.Bond, min, bid.Amount)
	}
	plan, err := e.global.NormalizeText("bid plan", bid.Plan)
	if err != nil {
		return nil, err
	}
	next := rec.Clone()
	next.Bids = append(next.Bids, Bid{
		Furnisher:    furnisher,
		Amount:       bid.Amount,
		Plan:         plan,
		TimeRequired: bid.TimeRequired,
		Bond:         bid.Bond,
	})
	nextAmount, err := addSats(prior.Satoshis, bid.Bond)
	if err != nil {
		return nil, invalidParamf("%v", err)
	}
	return e.invoke(ctx, call{
		method:     MethodPlaceBid,
		actor:      RoleFurnisher,
		prior:      prior,
		args:       [][]byte{u64arg(bid.Amount), []byte(plan), u64arg(bid.TimeRequired), u64arg(bid.Bond)},
		next:       next,
		nextAmount: nextAmount,
		topUp:      bid.Bond,
		sequence:   seqFinal,
		event:      EventTypeBidPlaced,
	})
}

// IncreaseBounty adds more of the seeker's funds to an Open escrow.
func (e *Engine) IncreaseBounty(ctx context.Context, seeker crypto.PubKey, prior *Tx, increaseBy uint64) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateOpen)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	if increaseBy == 0 {
		return nil, invalidParamf("bounty increase must be positive")
	}
	next := rec.Clone()
	next.Bounty, err = addSats(next.Bounty, increaseBy)
	if err != nil {
		return nil, invalidParamf("%v", err)
	}
	nextAmount, err := addSats(prior.Satoshis, increaseBy)
	if err != nil {
		return nil, invalidParamf("%v", err)
	}
	return e.invoke(ctx, call{
		method:     MethodIncreaseBounty,
		actor:      RoleSeeker,
		prior:      prior,
		args:       [][]byte{u64arg(increaseBy)},
		next:       next,
		nextAmount: nextAmount,
		topUp:      increaseBy,
		sequence:   seqFinal,
		event:      EventTypeBountyIncreased,
	})
}

// CancelBeforeAccept terminates an Open escrow in one transaction: the
// bounty refunds to the seeker and every bond to its bidder.
func (e *Engine) CancelBeforeAccept(ctx context.Context, seeker crypto.PubKey, prior *Tx) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateOpen)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	payments := []payment{{to: rec.Seeker, satoshis: rec.Bounty, memo: "bounty refund"}}
	for i := range rec.Bids {
		b := &rec.Bids[i]
		if b.Bond == 0 {
			continue
		}
		payments = append(payments, payment{to: b.Furnisher, satoshis: b.Bond, memo: "bid bond refund"})
	}
	return e.invoke(ctx, call{
		method:   MethodCancelBeforeAccept,
		actor:    RoleSeeker,
		prior:    prior,
		payments: payments,
		sequence: seqFinal,
		event:    EventTypeCancelled,
	})
}

// AcceptBid binds one furnisher to the work. The other bids are implicitly
// rejected: their bonds refund in the same transaction. The bounty becomes
// the accepted bid's amount; surplus refunds to the seeker, a shortfall is
// funded from the seeker's wallet.
func (e *Engine) AcceptBid(ctx context.Context, seeker crypto.PubKey, prior *Tx, bidIndex int, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateOpen)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	if err := requireTime(now); err != nil {
		return nil, err
	}
	if bidIndex < 0 || bidIndex >= len(rec.Bids) {
		return nil, invalidParamf("bid index %d out of range (%d bids)", bidIndex, len(rec.Bids))
	}
	bid := rec.Bids[bidIndex]
	next := rec.Clone()
	next.State = StateAssigned
	next.Furnisher = bid.Furnisher
	next.AcceptedBid = bidIndex
	next.AcceptedAt = now.MedianTime
	next.Bounty = bid.Amount
	nextAmount, err := addSats(bid.Amount, bid.Bond)
	if err != nil {
		return nil, invalidParamf("%v", err)
	}
	var payments []payment
	for i := range rec.Bids {
		if i == bidIndex || rec.Bids[i].Bond == 0 {
			continue
		}
		payments = append(payments, payment{to: rec.Bids[i].Furnisher, satoshis: rec.Bids[i].Bond, memo: "losing bid bond refund"})
	}
	var topUp uint64
	if bid.Amount > rec.Bounty {
		topUp = bid.Amount - rec.Bounty
	} else if surplus := rec.Bounty - bid.Amount; surplus > 0 {
		payments = append(payments, payment{to: rec.Seeker, satoshis: surplus, memo: "bounty surplus refund"})
	}
	return e.invoke(ctx, call{
		method:     MethodAcceptBid,
		actor:      RoleSeeker,
		prior:      prior,
		args:       [][]byte{u64arg(uint64(bidIndex))},
		next:       next,
		nextAmount: nextAmount,
		payments:   payments,
		topUp:      topUp,
		sequence:   seqFinal,
		event:      EventTypeBidAccepted,
	})
}

// CancelBidApprovalAfterDelay unwinds an acceptance whose furnisher never
// started work. Legal once the unwind delay has elapsed since acceptance;
// the transaction itself carries the matching lock time so the network
// enforces the same gate. The non-starting furnisher's bond forfeits to the
// seeker; the escrow reopens or cancels per the configured policy.
func (e *Engine) CancelBidApprovalAfterDelay(ctx context.Context, seeker crypto.PubKey, prior *Tx, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateAssigned)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	if err := requireTime(now); err != nil {
		return nil, err
	}
	unlockAt, err := timeAfter(rec.AcceptedAt, e.global.UnwindDelaySecs)
	if err != nil {
		return nil, err
	}
	if now.MedianTime < unlockAt {
		return nil, invalidParamf("unwind delay has not elapsed (opens at %d, chain time %d)", unlockAt, now.MedianTime)
	}
	lockTime, err := lockTimeFrom(unlockAt)
	if err != nil {
		return nil, err
	}
	bid := rec.AcceptedBidRef()
	payments := []payment{{to: rec.Seeker, satoshis: bid.Bond, memo: "forfeited bond"}}
	c := call{
		method:   MethodCancelBidApprovalAfterDelay,
		actor:    RoleSeeker,
		prior:    prior,
		args:     [][]byte{u64arg(unlockAt)},
		payments: payments,
		sequence: seqLockTimeEnabled,
		lockTime: lockTime,
		event:    EventTypeBidUnwound,
	}
	switch e.global.UnwindPolicy {
	case UnwindReopen:
		next := rec.Clone()
		next.State = StateOpen
		next.Furnisher = crypto.PubKey{}
		next.AcceptedBid = NoAcceptedBid
		next.AcceptedAt = 0
		next.Bids = nil
		c.next = next
		c.nextAmount = rec.Bounty
	case UnwindCancel:
		c.payments = append(c.payments, payment{to: rec.Seeker, satoshis: rec.Bounty, memo: "bounty refund"})
	default:
		return nil, invariantf("invalid unwind policy %d", uint8(e.global.UnwindPolicy))
	}
	return e.invoke(ctx, c)
}

// StartWork moves an Assigned escrow to InProgress. Only the bound
// furnisher may start.
func (e *Engine) StartWork(ctx context.Context, furnisher crypto.PubKey, prior *Tx) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateAssigned)
	if err != nil {
		return nil, err
	}
	if !rec.Furnisher.Equal(furnisher) {
		return nil, invalidParamf("caller is not the bound furnisher")
	}
	next := rec.Clone()
	next.State = StateInProgress
	return e.invoke(ctx, call{
		method:     MethodStartWork,
		actor:      RoleFurnisher,
		prior:      prior,
		next:       next,
		nextAmount: prior.Satoshis,
		sequence:   seqFinal,
		event:      EventTypeWorkStarted,
	})
}

// CompleteWork attaches the work-completion descriptor. Allowed while the
// chain's median time has not passed deadline plus the grace period.
func (e *Engine) CompleteWork(ctx context.Context, furnisher crypto.PubKey, prior *Tx, report string, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateInProgress)
	if err != nil {
		return nil, err
	}
	if !rec.Furnisher.Equal(furnisher) {
		return nil, invalidParamf("caller is not the bound furnisher")
	}
	if err := requireTime(now); err != nil {
		return nil, err
	}
	limit, err := timeAfter(rec.Deadline, e.global.CompletionGraceSecs)
	if err != nil {
		return nil, err
	}
	if now.MedianTime > limit {
		return nil, invalidParamf("completion window closed at %d (chain time %d)", limit, now.MedianTime)
	}
	normalized, err := e.global.NormalizeText("work report", report)
	if err != nil {
		return nil, err
	}
	next := rec.Clone()
	next.State = StateCompleted
	next.WorkReport = normalized
	next.CompletedAt = now.MedianTime
	return e.invoke(ctx, call{
		method:     MethodCompleteWork,
		actor:      RoleFurnisher,
		prior:      prior,
		args:       [][]byte{[]byte(normalized)},
		next:       next,
		nextAmount: prior.Satoshis,
		sequence:   seqFinal,
		event:      EventTypeWorkCompleted,
	})
}

// ApproveCompletedWork accepts the delivered work. The locked bounty and
// bond stay in the contract as the furnisher's payout, spendable via
// ClaimBounty.
func (e *Engine) ApproveCompletedWork(ctx context.Context, seeker crypto.PubKey, prior *Tx) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateCompleted)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	next := rec.Clone()
	next.State = StateResolvedApproved
	return e.invoke(ctx, call{
		method:     MethodApproveCompletedWork,
		actor:      RoleSeeker,
		prior:      prior,
		next:       next,
		nextAmount: prior.Satoshis,
		sequence:   seqFinal,
		event:      EventTypeApproved,
	})
}

// DisputeWork contests delivered work within the dispute window. The
// evidence payload is committed to the contract as a digest; the material
// itself is served off-chain to the platform.
func (e *Engine) DisputeWork(ctx context.Context, seeker crypto.PubKey, prior *Tx, evidence []byte, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateCompleted)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	if err := requireTime(now); err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, invalidParamf("dispute evidence is required")
	}
	window, err := timeAfter(rec.CompletedAt, e.global.DisputeWindowSecs)
	if err != nil {
		return nil, err
	}
	if now.MedianTime > window {
		return nil, invalidParamf("dispute window closed at %d (chain time %d)", window, now.MedianTime)
	}
	digest := crypto.DigestEvidence(evidence)
	next := rec.Clone()
	next.State = StateDisputed
	next.Evidence = digest
	return e.invoke(ctx, call{
		method:     MethodDisputeWork,
		actor:      RoleSeeker,
		prior:      prior,
		args:       [][]byte{digest.Bytes()},
		next:       next,
		nextAmount: prior.Satoshis,
		sequence:   seqFinal,
		event:      EventTypeDisputed,
	})
}

// RaiseDispute is the bound furnisher's escape hatch against a stalling
// seeker, available strictly beyond deadline plus grace. The transaction
// carries the matching lock time.
func (e *Engine) RaiseDispute(ctx context.Context, furnisher crypto.PubKey, prior *Tx, evidence []byte, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateInProgress, StateCompleted)
	if err != nil {
		return nil, err
	}
	if !rec.Furnisher.Equal(furnisher) {
		return nil, invalidParamf("caller is not the bound furnisher")
	}
	if err := requireTime(now); err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, invalidParamf("dispute evidence is required")
	}
	gate, err := timeAfter(rec.Deadline, e.global.CompletionGraceSecs)
	if err != nil {
		return nil, err
	}
	if now.MedianTime <= gate {
		return nil, invalidParamf("stall dispute opens after %d (chain time %d)", gate, now.MedianTime)
	}
	lockTime, err := lockTimeFrom(gate)
	if err != nil {
		return nil, err
	}
	digest := crypto.DigestEvidence(evidence)
	next := rec.Clone()
	next.State = StateDisputed
	next.Evidence = digest
	return e.invoke(ctx, call{
		method:     MethodRaiseDispute,
		actor:      RoleFurnisher,
		prior:      prior,
		args:       [][]byte{digest.Bytes()},
		next:       next,
		nextAmount: prior.Satoshis,
		sequence:   seqLockTimeEnabled,
		lockTime:   lockTime,
		event:      EventTypeDisputed,
	})
}

// DecideDispute records the platform's binding split. The shares must not
// exceed the locked value; the remainder, if any, pays out immediately as
// the arbitration fee. A zero-zero split consumes the whole escrow as fee
// and is terminal on the spot.
func (e *Engine) DecideDispute(ctx context.Context, platform crypto.PubKey, prior *Tx, forSeeker, forFurnisher uint64, notes string) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateDisputed)
	if err != nil {
		return nil, err
	}
	if !e.global.PlatformKey.Equal(platform) {
		return nil, invalidParamf("caller is not the platform arbiter")
	}
	if notes != "" {
		notes, err = e.global.NormalizeText("arbitration notes", notes)
		if err != nil {
			return nil, err
		}
	}
	split, err := addSats(forSeeker, forFurnisher)
	if err != nil {
		return nil, invariantf("%v", err)
	}
	if split > prior.Satoshis {
		return nil, invariantf("split %d exceeds locked value %d", split, prior.Satoshis)
	}
	fee := prior.Satoshis - split
	c := call{
		method:   MethodDecideDispute,
		actor:    RolePlatform,
		prior:    prior,
		args:     [][]byte{u64arg(forSeeker), u64arg(forFurnisher), []byte(notes)},
		sequence: seqFinal,
		event:    EventTypeDecided,
	}
	if split > 0 {
		next := rec.Clone()
		next.State = StateResolvedDisputed
		next.Resolution = &Resolution{
			AmountForSeeker:    forSeeker,
			AmountForFurnisher: forFurnisher,
			Notes:              notes,
		}
		c.next = next
		c.nextAmount = split
	}
	if fee > 0 {
		c.payments = append(c.payments, payment{to: e.global.PlatformKey, satoshis: fee, memo: "arbitration fee"})
	}
	return e.invoke(ctx, c)
}

// ClaimBounty spends an approved escrow's payout, bounty plus bond, to the
// furnisher's own wallet. Terminal.
func (e *Engine) ClaimBounty(ctx context.Context, furnisher crypto.PubKey, prior *Tx) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateResolvedApproved)
	if err != nil {
		return nil, err
	}
	if !rec.Furnisher.Equal(furnisher) {
		return nil, invalidParamf("caller is not the bound furnisher")
	}
	return e.invoke(ctx, call{
		method:   MethodClaimBounty,
		actor:    RoleFurnisher,
		prior:    prior,
		payments: []payment{{to: rec.Furnisher, satoshis: prior.Satoshis, memo: "bounty and bond payout"}},
		sequence: seqFinal,
		event:    EventTypeClaimed,
	})
}

// ClaimAfterDispute spends the furnisher's decided share. The seeker's
// unclaimed share, if any, continues in the contract.
func (e *Engine) ClaimAfterDispute(ctx context.Context, furnisher crypto.PubKey, prior *Tx) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateResolvedDisputed)
	if err != nil {
		return nil, err
	}
	if !rec.Furnisher.Equal(furnisher) {
		return nil, invalidParamf("caller is not the bound furnisher")
	}
	share := rec.Resolution.AmountForFurnisher
	if share == 0 {
		return nil, invalidParamf("no furnisher share left to claim")
	}
	c := call{
		method:   MethodClaimAfterDispute,
		actor:    RoleFurnisher,
		prior:    prior,
		payments: []payment{{to: rec.Furnisher, satoshis: share, memo: "decided furnisher share"}},
		sequence: seqFinal,
		event:    EventTypeClaimed,
	}
	if remainder := rec.Resolution.AmountForSeeker; remainder > 0 {
		next := rec.Clone()
		next.Resolution.AmountForFurnisher = 0
		c.next = next
		c.nextAmount = remainder
	}
	return e.invoke(ctx, c)
}

// ReclaimOptions controls what happens to the seeker's decided share.
type ReclaimOptions struct {
	// Reconstitute rolls the share into a brand-new Open escrow instead of
	// paying it back to the seeker's wallet.
	Reconstitute bool
	// NewDeadline is the fresh escrow's completion deadline. Required when
	// reconstituting, validated like a seek.
	NewDeadline uint64
	// NewDescription overrides the fresh escrow's work description;
	// defaults to the resolved escrow's.
	NewDescription string
}

// ReclaimAfterDispute spends the seeker's decided share, or, with
// Reconstitute, re-opens a fresh escrow funded by it. The furnisher's
// unclaimed share, if any, continues in the contract.
func (e *Engine) ReclaimAfterDispute(ctx context.Context, seeker crypto.PubKey, prior *Tx, opts *ReclaimOptions, now chain.Time) (*Receipt, error) {
	rec, err := e.checkPrior(prior, StateResolvedDisputed)
	if err != nil {
		return nil, err
	}
	if !rec.Seeker.Equal(seeker) {
		return nil, invalidParamf("caller is not the seeker")
	}
	share := rec.Resolution.AmountForSeeker
	if share == 0 {
		return nil, invalidParamf("no seeker share left to reclaim")
	}
	reconstitute := opts != nil && opts.Reconstitute
	c := call{
		method:   MethodReclaimAfterDispute,
		actor:    RoleSeeker,
		prior:    prior,
		args:     [][]byte{boolArg(reconstitute)},
		sequence: seqFinal,
		event:    EventTypeReclaimed,
	}
	if remainder := rec.Resolution.AmountForFurnisher; remainder > 0 {
		next := rec.Clone()
		next.Resolution.AmountForSeeker = 0
		c.next = next
		c.nextAmount = remainder
	}
	if reconstitute {
		if err := requireTime(now); err != nil {
			return nil, err
		}
		description := opts.NewDescription
		if description == "" {
			description = rec.Description
		}
		spawn, err := NewSeekRecord(e.global, rec.Seeker, description, opts.NewDeadline, now)
		if err != nil {
			return nil, err
		}
		spawn.Bounty = share
		c.spawn = spawn
		c.spawnAmount = share
		c.event = EventTypeReconstituted
	} else {
		c.payments = []payment{{to: rec.Seeker, satoshis: share, memo: "decided seeker share"}}
	}
	return e.invoke(ctx, c)
}
