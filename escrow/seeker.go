package escrow

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// Seeker is the bounty-posting side of the protocol. It wraps the engine
// with the seeker's wallet-derived identity and the chain's view of time, so
// callers hold no keys and no clocks of their own.
type Seeker struct {
	engine   *Engine
	resolver LookupResolver
	tracker  chain.Tracker
	keys     *keySource
}

// NewSeeker builds a seeker agent on top of a configured engine.
func NewSeeker(engine *Engine, resolver LookupResolver, tracker chain.Tracker) (*Seeker, error) {
	if engine == nil {
		return nil, fmt.Errorf("escrow seeker: engine not configured")
	}
	if resolver == nil {
		return nil, fmt.Errorf("escrow seeker: lookup resolver not configured")
	}
	if tracker == nil {
		return nil, fmt.Errorf("escrow seeker: chain tracker not configured")
	}
	return &Seeker{
		engine:   engine,
		resolver: resolver,
		tracker:  tracker,
		keys:     newKeySource(engine.Wallet(), RoleSeeker),
	}, nil
}

// Key returns the seeker's derived public key, resolving it on first use.
func (s *Seeker) Key(ctx context.Context) (crypto.PubKey, error) {
	return s.keys.get(ctx)
}

func (s *Seeker) now(ctx context.Context) (chain.Time, error) {
	now, err := s.tracker.Now(ctx)
	if err != nil {
		return chain.Time{}, fmt.Errorf("escrow seeker: chain time: %w", err)
	}
	return now, nil
}

// Seek posts a new bounty: locks the amount under a fresh Open escrow with
// the given work description and completion deadline.
func (s *Seeker) Seek(ctx context.Context, description string, deadline, bounty uint64) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.now(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Seek(ctx, key, description, deadline, bounty, now)
}

// IncreaseBounty adds funds to one of the seeker's Open escrows.
func (s *Seeker) IncreaseBounty(ctx context.Context, prior *Tx, increaseBy uint64) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.IncreaseBounty(ctx, key, prior, increaseBy)
}

// CancelBeforeAccept refunds the bounty and every bid bond, closing the
// escrow before any furnisher is bound.
func (s *Seeker) CancelBeforeAccept(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.CancelBeforeAccept(ctx, key, prior)
}

// AcceptBid binds the furnisher behind the given bid index.
func (s *Seeker) AcceptBid(ctx context.Context, prior *Tx, bidIndex int) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.now(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.AcceptBid(ctx, key, prior, bidIndex, now)
}

// CancelBidApprovalAfterDelay unwinds an acceptance whose furnisher never
// started work within the configured delay.
func (s *Seeker) CancelBidApprovalAfterDelay(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.now(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.CancelBidApprovalAfterDelay(ctx, key, prior, now)
}

// ApproveCompletedWork accepts delivered work, releasing the payout to the
// furnisher's claim.
func (s *Seeker) ApproveCompletedWork(ctx context.Context, prior *Tx) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.ApproveCompletedWork(ctx, key, prior)
}

// DisputeWork contests delivered work within the dispute window, committing
// a digest of the evidence payload to the contract.
func (s *Seeker) DisputeWork(ctx context.Context, prior *Tx, evidence []byte) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.now(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.DisputeWork(ctx, key, prior, evidence, now)
}

// ReclaimAfterDispute spends the seeker's decided share, optionally rolling
// it into a fresh escrow.
func (s *Seeker) ReclaimAfterDispute(ctx context.Context, prior *Tx, opts *ReclaimOptions) (*Receipt, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	now := chain.Time{}
	if opts != nil && opts.Reconstitute {
		now, err = s.now(ctx)
		if err != nil {
			return nil, err
		}
	}
	return s.engine.ReclaimAfterDispute(ctx, key, prior, opts, now)
}

// List returns the seeker's escrows, optionally restricted to the given
// states. Results are re-checked client side: only records whose seeker key
// matches the agent's are returned, whatever the lookup service claims.
func (s *Seeker) List(ctx context.Context, states ...State) ([]*Tx, error) {
	key, err := s.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := queryEscrows(ctx, s.resolver, Criteria{Party: &key, States: states})
	if err != nil {
		return nil, err
	}
	out := txs[:0]
	for _, tx := range txs {
		if tx.Record.Seeker.Equal(key) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Disputed lists the seeker's escrows currently under arbitration.
func (s *Seeker) Disputed(ctx context.Context) ([]*Tx, error) {
	return s.List(ctx, StateDisputed)
}

// Refresh re-fetches the live state of one of the seeker's escrows.
func (s *Seeker) Refresh(ctx context.Context, outpoint Outpoint) (*Tx, error) {
	return FindEscrow(ctx, s.resolver, outpoint)
}
