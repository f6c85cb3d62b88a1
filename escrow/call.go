package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// Method tags one legal contract transition. The set is closed: every engine
// operation builds its own call value, so an illegal method/parameter
// combination is unrepresentable outside this package.
type Method uint8

const (
	MethodSeek Method = iota + 1
	MethodPlaceBid
	MethodIncreaseBounty
	MethodCancelBeforeAccept
	MethodAcceptBid
	MethodCancelBidApprovalAfterDelay
	MethodStartWork
	MethodCompleteWork
	MethodApproveCompletedWork
	MethodDisputeWork
	MethodRaiseDispute
	MethodDecideDispute
	MethodClaimBounty
	MethodClaimAfterDispute
	MethodReclaimAfterDispute
)

func (m Method) String() string {
	switch m {
	case MethodSeek:
		return "seek"
	case MethodPlaceBid:
		return "placeBid"
	case MethodIncreaseBounty:
		return "increaseBounty"
	case MethodCancelBeforeAccept:
		return "cancelBeforeAccept"
	case MethodAcceptBid:
		return "acceptBid"
	case MethodCancelBidApprovalAfterDelay:
		return "cancelBidApprovalAfterDelay"
	case MethodStartWork:
		return "startWork"
	case MethodCompleteWork:
		return "completeWork"
	case MethodApproveCompletedWork:
		return "approveCompletedWork"
	case MethodDisputeWork:
		return "disputeWork"
	case MethodRaiseDispute:
		return "raiseDispute"
	case MethodDecideDispute:
		return "decideDispute"
	case MethodClaimBounty:
		return "claimBounty"
	case MethodClaimAfterDispute:
		return "claimAfterDispute"
	case MethodReclaimAfterDispute:
		return "reclaimAfterDispute"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Input sequence numbers: final unless the transition is gated by nLockTime.
const (
	seqFinal           = uint32(0xFFFFFFFF)
	seqLockTimeEnabled = uint32(0xFFFFFFFE)
)

// payment is a plain payout or refund carried by a transition transaction.
type payment struct {
	to       crypto.PubKey
	satoshis uint64
	memo     string
}

// call is one fully specified state transition, produced by exactly one
// engine operation. Amount bookkeeping: topUp is wallet-funded inflow (seek
// bounty, bid bond, bounty increase, accept shortfall); everything else must
// come from the prior output and flow to next/spawn/payments.
type call struct {
	method      Method
	actor       Role
	prior       *Tx
	args        [][]byte
	next        *Record
	nextAmount  uint64
	spawn       *Record
	spawnAmount uint64
	payments    []payment
	topUp       uint64
	sequence    uint32
	lockTime    uint32
	event       string
}

// Receipt reports a broadcast transition. Next is the successor escrow
// output when the escrow continues; Spawned is the brand-new escrow created
// by a reconstituting reclaim. Both are spendable without a lookup round
// trip: the raw transaction doubles as their source.
type Receipt struct {
	TxID    chainhash.Hash
	Raw     []byte
	Next    *Tx
	Spawned *Tx
}

// invoke drives one call through the uniform protocol: re-check value
// conservation, assemble the wallet action (prior spend with an unlocking
// reservation, successor output at index 0, payouts after), sign, broadcast,
// emit. Wallet errors pass through unmodified; a double-spend rejection maps
// to ErrStaleState.
func (e *Engine) invoke(ctx context.Context, c call) (*Receipt, error) {
	inflow := c.topUp
	var outflow uint64
	if c.prior != nil {
		var err error
		inflow, err = addSats(inflow, c.prior.Satoshis)
		if err != nil {
			return nil, invariantf("%v", err)
		}
	}
	for _, amount := range []uint64{c.nextAmount, c.spawnAmount} {
		var err error
		outflow, err = addSats(outflow, amount)
		if err != nil {
			return nil, invariantf("%v", err)
		}
	}
	for i := range c.payments {
		var err error
		outflow, err = addSats(outflow, c.payments[i].satoshis)
		if err != nil {
			return nil, invariantf("%v", err)
		}
	}
	if inflow != outflow {
		return nil, invariantf("%s would turn %d sat into %d sat", c.method, inflow, outflow)
	}

	action := &Action{
		Description: fmt.Sprintf("escrow %s", c.method),
		Labels:      []string{"escrow", c.method.String()},
		LockTime:    c.lockTime,
		FeeRate:     e.global.FeeRateSatPerKB,
	}
	if c.prior != nil {
		action.Inputs = append(action.Inputs, ActionInput{
			Outpoint:              c.prior.Outpoint,
			SourceTx:              c.prior.SourceTx,
			SequenceNumber:        c.sequence,
			UnlockingScriptLength: estimateUnlockLength(c.args),
			Unlock: UnlockPlan{
				Method: c.method,
				Role:   c.actor,
				Args:   c.args,
			},
			Description: fmt.Sprintf("escrow %s", c.prior.Outpoint),
		})
	}

	var nextScript, spawnScript []byte
	nextVout := -1
	spawnVout := -1
	if c.next != nil {
		if c.nextAmount == 0 {
			return nil, invariantf("%s continues the escrow with no locked value", c.method)
		}
		var err error
		nextScript, err = EncodeRecord(c.next)
		if err != nil {
			return nil, invariantf("%s next state: %v", c.method, err)
		}
		nextVout = len(action.Outputs)
		action.Outputs = append(action.Outputs, ActionOutput{
			LockingScript: nextScript,
			Satoshis:      c.nextAmount,
			Description:   fmt.Sprintf("escrow state %s", c.next.State),
		})
	}
	if c.spawn != nil {
		if c.spawnAmount == 0 {
			return nil, invariantf("%s spawns an escrow with no locked value", c.method)
		}
		var err error
		spawnScript, err = EncodeRecord(c.spawn)
		if err != nil {
			return nil, invariantf("%s spawned state: %v", c.method, err)
		}
		spawnVout = len(action.Outputs)
		action.Outputs = append(action.Outputs, ActionOutput{
			LockingScript: spawnScript,
			Satoshis:      c.spawnAmount,
			Description:   "escrow reconstituted",
		})
	}
	for i := range c.payments {
		p := &c.payments[i]
		lock, err := PaymentScript(p.to)
		if err != nil {
			return nil, invalidParamf("payment to %s: %v", p.to.Short(), err)
		}
		action.Outputs = append(action.Outputs, ActionOutput{
			LockingScript: lock,
			Satoshis:      p.satoshis,
			Description:   p.memo,
		})
	}

	signed, err := e.wallet.SignAction(ctx, action)
	if err != nil {
		return nil, err
	}
	if signed == nil || len(signed.Raw) == 0 {
		return nil, fmt.Errorf("escrow: wallet returned an empty signing result")
	}
	if _, err := e.caster.Broadcast(ctx, signed.Raw); err != nil {
		var rejection *BroadcastRejection
		if errors.As(err, &rejection) && rejection.DoubleSpend {
			return nil, fmt.Errorf("%w: %s spent concurrently: %v", ErrStaleState, c.method, err)
		}
		return nil, err
	}

	receipt := &Receipt{TxID: signed.TxID, Raw: signed.Raw}
	if c.next != nil {
		receipt.Next = &Tx{
			Outpoint:      Outpoint{TxID: signed.TxID, Vout: uint32(nextVout)},
			Satoshis:      c.nextAmount,
			LockingScript: nextScript,
			SourceTx:      signed.Raw,
			Record:        c.next.Clone(),
		}
	}
	if c.spawn != nil {
		receipt.Spawned = &Tx{
			Outpoint:      Outpoint{TxID: signed.TxID, Vout: uint32(spawnVout)},
			Satoshis:      c.spawnAmount,
			LockingScript: spawnScript,
			SourceTx:      signed.Raw,
			Record:        c.spawn.Clone(),
		}
	}
	if c.event != "" {
		e.emit(NewTransitionEvent(c.event, c.method, signed.TxID.String(), c.next))
	}
	return receipt, nil
}

// PaymentScript builds the standard pay-to-pubkey-hash locking script used
// for refunds, payouts and fees.
func PaymentScript(to crypto.PubKey) ([]byte, error) {
	hash, err := to.Hash160()
	if err != nil {
		return nil, err
	}
	s := &script.Script{}
	if err := s.AppendOpcodes(script.OpDUP); err != nil {
		return nil, err
	}
	if err := s.AppendOpcodes(script.OpHASH160); err != nil {
		return nil, err
	}
	if err := s.AppendPushData(hash); err != nil {
		return nil, err
	}
	if err := s.AppendOpcodes(script.OpEQUALVERIFY); err != nil {
		return nil, err
	}
	if err := s.AppendOpcodes(script.OpCHECKSIG); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// Unlocking script size model: method tag push, each argument as a push,
// then the wallet's authorization material (DER signature with sighash flag
// plus a compressed key). Reserved before the real script exists so the
// wallet can estimate fees.
const (
	sigPushLen    = 1 + 73
	pubKeyPushLen = 1 + crypto.PubKeySize
	methodPushLen = 2
)

func estimateUnlockLength(args [][]byte) uint32 {
	total := uint32(methodPushLen + sigPushLen + pubKeyPushLen)
	for _, arg := range args {
		n := uint32(len(arg))
		switch {
		case n < 76:
			total += 1 + n
		case n < 256:
			total += 2 + n
		default:
			total += 3 + n
		}
	}
	return total
}
