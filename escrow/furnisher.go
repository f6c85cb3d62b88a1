package escrow

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// Furnisher is the bidding and delivering side of the protocol.
type Furnisher struct {
	engine   *Engine
	resolver LookupResolver
	tracker  chain.Tracker
	keys     *keySource
}

// NewFurnisher builds a furnisher agent on top of a configured engine.
func NewFurnisher(engine *Engine, resolver LookupResolver, tracker chain.Tracker) (*Furnisher, error) {
	if engine == nil {
		return nil, fmt.Errorf("escrow furnisher: engine not configured")
	}
	if resolver == nil {
		return nil, fmt.Errorf("escrow furnisher: lookup resolver not configured")
	}
	if tracker == nil {
		return nil, fmt.Errorf("escrow furnisher: chain tracker not configured")
	}
	return &Furnisher{
		engine:   engine,
		resolver: resolver,
		tracker:  tracker,
		keys:     newKeySource(engine.Wallet(), RoleFurnisher),
	}, nil
}

// Key returns the furnisher's derived public key, resolving it on first use.
func (f *Furnisher) Key(ctx context.Context) (crypto.PubKey, error) {
	return f.keys.get(ctx)
}

func (f *Furnisher) now(ctx context.Context) (chain.Time, error) {
	now, err := f.tracker.Now(ctx)
	if err != nil {
		return chain.Time{}, fmt.Errorf("escrow furnisher: chain time: %w", err)
	}
	return now, nil
}

// OpenWork lists every Open escrow currently accepting bids.
func (f *Furnisher) OpenWork(ctx context.Context) ([]*Tx, error) {
	return queryEscrows(ctx, f.resolver, Criteria{States: []State{StateOpen}})
}

// Engagements lists escrows the furnisher is party to: bound assignments in
// any active state, plus Open escrows carrying one of the furnisher's bids.
func (f *Furnisher) Engagements(ctx context.Context, states ...State) ([]*Tx, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := queryEscrows(ctx, f.resolver, Criteria{Party: &key, States: states})
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, tx := range txs {
		if f.party(tx.Record, key) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// party reports whether the record involves the furnisher key, either as the
// bound furnisher or as one of the bidders.
func (f *Furnisher) party(rec *Record, key crypto.PubKey) bool {
	if rec.Furnisher.Equal(key) {
		return true
	}
	for i := range rec.Bids {
		if rec.Bids[i].Furnisher.Equal(key) {
			return true
		}
	}
	return false
}

// PlaceBid offers to do the work of an Open escrow, locking the bond.
func (f *Furnisher) PlaceBid(ctx context.Context, prior *Tx, bid BidParams) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.PlaceBid(ctx, key, prior, bid)
}

// StartWork signals that the furnisher has begun the assigned work.
func (f *Furnisher) StartWork(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.StartWork(ctx, key, prior)
}

// CompleteWork submits the work-completion descriptor.
func (f *Furnisher) CompleteWork(ctx context.Context, prior *Tx, report string) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := f.now(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.CompleteWork(ctx, key, prior, report, now)
}

// RaiseDispute escalates a stalling seeker to the platform once the
// completion window has lapsed.
func (f *Furnisher) RaiseDispute(ctx context.Context, prior *Tx, evidence []byte) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := f.now(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.RaiseDispute(ctx, key, prior, evidence, now)
}

// ClaimBounty spends an approved escrow's payout to the furnisher's wallet.
func (f *Furnisher) ClaimBounty(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.ClaimBounty(ctx, key, prior)
}

// ClaimAfterDispute spends the furnisher's share of a decided dispute.
func (f *Furnisher) ClaimAfterDispute(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := f.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return f.engine.ClaimAfterDispute(ctx, key, prior)
}

// Refresh re-fetches the live state of an escrow the furnisher is tracking.
func (f *Furnisher) Refresh(ctx context.Context, outpoint Outpoint) (*Tx, error) {
	return FindEscrow(ctx, f.resolver, outpoint)
}
