package escrow

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// Platform is the arbitration side of the protocol. Its derived key must
// match the configured platform key or every decision will be rejected by
// the engine.
type Platform struct {
	engine   *Engine
	resolver LookupResolver
	keys     *keySource
}

// NewPlatform builds the arbitration agent on top of a configured engine.
func NewPlatform(engine *Engine, resolver LookupResolver) (*Platform, error) {
	if engine == nil {
		return nil, fmt.Errorf("escrow platform: engine not configured")
	}
	if resolver == nil {
		return nil, fmt.Errorf("escrow platform: lookup resolver not configured")
	}
	return &Platform{
		engine:   engine,
		resolver: resolver,
		keys:     newKeySource(engine.Wallet(), RolePlatform),
	}, nil
}

// Key returns the platform's derived public key, resolving it on first use.
func (p *Platform) Key(ctx context.Context) (crypto.PubKey, error) {
	return p.keys.get(ctx)
}

// Disputes lists every escrow awaiting an arbitration decision.
func (p *Platform) Disputes(ctx context.Context) ([]*Tx, error) {
	return queryEscrows(ctx, p.resolver, Criteria{States: []State{StateDisputed}})
}

// Active lists every live escrow, whichever parties and states are involved.
// Intended for platform-side monitoring and audit export.
func (p *Platform) Active(ctx context.Context, states ...State) ([]*Tx, error) {
	return queryEscrows(ctx, p.resolver, Criteria{States: states})
}

// DecideDispute records the platform's binding split for a disputed escrow.
// The difference between the locked value and the two shares, if any, pays
// out immediately as the arbitration fee.
func (p *Platform) DecideDispute(ctx context.Context, prior *Tx, forSeeker, forFurnisher uint64, notes string) (*Receipt, error) {
	key, err := p.keys.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.engine.DecideDispute(ctx, key, prior, forSeeker, forFurnisher, notes)
}

// Refresh re-fetches the live state of a disputed escrow.
func (p *Platform) Refresh(ctx context.Context, outpoint Outpoint) (*Tx, error) {
	return FindEscrow(ctx, p.resolver, outpoint)
}

// Evidence verifies an off-chain evidence payload against the digest a
// disputed escrow committed on chain.
func (p *Platform) Evidence(prior *Tx, payload []byte) error {
	if prior == nil || prior.Record == nil {
		return invalidParamf("prior escrow state is required")
	}
	if prior.Record.State != StateDisputed {
		return invalidParamf("escrow is %s, not disputed", prior.Record.State)
	}
	if crypto.DigestEvidence(payload) != prior.Record.Evidence {
		return invalidParamf("evidence payload does not match the committed digest")
	}
	return nil
}
