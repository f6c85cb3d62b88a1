package escrow

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// Overlay names under which escrow outputs are admitted and indexed.
const (
	TopicName     = "tm_escrow"
	LookupService = "ls_escrow"
)

// Wallet is the signing collaborator. It custodies keys, derives one public
// key per role, funds transactions (mining fees included) and signs them.
// Signing failures are opaque to the core and pass through unmodified.
type Wallet interface {
	DerivePublicKey(ctx context.Context, role Role) (crypto.PubKey, error)
	SignAction(ctx context.Context, action *Action) (*SignedAction, error)
}

// Action is the transaction intent handed to the wallet: spend the listed
// inputs, create exactly the listed outputs (the wallet adds its own funding
// inputs and change), honor the lock time, and sign.
type Action struct {
	Description string
	Labels      []string
	Inputs      []ActionInput
	Outputs     []ActionOutput
	LockTime    uint32
	FeeRate     uint64
}

// ActionInput references one prior escrow output to spend. The wallet
// reserves UnlockingScriptLength bytes for fee estimation before the real
// unlocking script is known, then assembles it from the unlock plan.
type ActionInput struct {
	Outpoint              Outpoint
	SourceTx              []byte
	SequenceNumber        uint32
	UnlockingScriptLength uint32
	Unlock                UnlockPlan
	Description           string
}

// UnlockPlan carries what the contract's unlocking script must prove: which
// method is being invoked, by which role, with which serialized arguments.
// The wallet appends its authorization signature when assembling the script.
type UnlockPlan struct {
	Method Method
	Role   Role
	Args   [][]byte
}

// ActionOutput is one output the signed transaction must carry, in order.
type ActionOutput struct {
	LockingScript []byte
	Satoshis      uint64
	Description   string
}

// SignedAction is the wallet's result: the fully signed raw transaction and
// its id.
type SignedAction struct {
	TxID chainhash.Hash
	Raw  []byte
}

// Broadcaster submits signed transactions to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, raw []byte) (*BroadcastAck, error)
}

// BroadcastAck acknowledges network acceptance.
type BroadcastAck struct {
	TxID chainhash.Hash
}

// BroadcastRejection is a typed refusal from the network. DoubleSpend marks
// the referenced output as already spent, which the invocation path maps to
// ErrStaleState so callers re-read and retry.
type BroadcastRejection struct {
	Code        string
	Description string
	DoubleSpend bool
}

func (e *BroadcastRejection) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("broadcast rejected: %s", e.Code)
	}
	return fmt.Sprintf("broadcast rejected: %s: %s", e.Code, e.Description)
}

// LookupResolver queries the overlay index for escrow outputs by criteria.
// Answers feed RecordsFromAnswer; agents re-filter decoded records rather
// than trusting the index.
type LookupResolver interface {
	Query(ctx context.Context, question LookupQuestion) (*LookupAnswer, error)
}

// LookupQuestion names the lookup service and the typed criteria.
type LookupQuestion struct {
	Service string
	Find    Criteria
}

// Criteria narrows a lookup query. Zero fields match everything current;
// IncludeSpent widens the answer to historical (spent) outputs.
type Criteria struct {
	States       []State
	Party        *crypto.PubKey
	Outpoint     *Outpoint
	IncludeSpent bool
}

// LookupAnswer is a batch of candidate outputs returned by the resolver.
type LookupAnswer struct {
	Outputs []LookupOutput
}

// LookupOutput is one candidate output entry. SourceTx, when present, is the
// raw transaction that created the output, required by wallets to spend it.
type LookupOutput struct {
	TxID          chainhash.Hash
	Vout          uint32
	Satoshis      uint64
	LockingScript []byte
	SourceTx      []byte
	Spent         bool
}
