package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// keySource lazily derives an agent's role key from the wallet. The result,
// success or failure, is cached after the first call so every operation of
// one agent acts under the same identity.
type keySource struct {
	wallet Wallet
	role   Role

	once sync.Once
	key  crypto.PubKey
	err  error
}

func newKeySource(wallet Wallet, role Role) *keySource {
	return &keySource{wallet: wallet, role: role}
}

func (s *keySource) get(ctx context.Context) (crypto.PubKey, error) {
	s.once.Do(func() {
		key, err := s.wallet.DerivePublicKey(ctx, s.role)
		if err != nil {
			s.err = fmt.Errorf("derive %s key: %w", s.role, err)
			return
		}
		if key.IsZero() {
			s.err = fmt.Errorf("derive %s key: wallet returned a zero key", s.role)
			return
		}
		s.key = key
	})
	return s.key, s.err
}

func queryEscrows(ctx context.Context, resolver LookupResolver, find Criteria) ([]*Tx, error) {
	if resolver == nil {
		return nil, invalidParamf("lookup resolver not configured")
	}
	answer, err := resolver.Query(ctx, LookupQuestion{Service: LookupService, Find: find})
	if err != nil {
		return nil, fmt.Errorf("escrow lookup: %w", err)
	}
	return RecordsFromAnswer(answer), nil
}

// FindEscrow fetches the live output for an escrow outpoint. A missing or
// spent outpoint maps to ErrStaleState: the caller's snapshot no longer
// matches the chain and must be re-fetched from a listing.
func FindEscrow(ctx context.Context, resolver LookupResolver, outpoint Outpoint) (*Tx, error) {
	if outpoint.IsZero() {
		return nil, invalidParamf("escrow outpoint is unset")
	}
	txs, err := queryEscrows(ctx, resolver, Criteria{Outpoint: &outpoint})
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.Outpoint == outpoint {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("%w: escrow %s not found or already spent", ErrStaleState, outpoint)
}
