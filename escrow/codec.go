package escrow

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

// contractCodeHex is the compiled escrow contract program shared by every
// escrow output, emitted by the contract toolchain for protocol version 1.
// The codec treats it as an opaque prefix: authorization semantics live in
// the ledger VM, not here.
const contractCodeHex = "0670676573633175636ba988ac676cad5168"

const opReturn = 0x6a

var contractCode = mustHex(contractCodeHex)

// scriptPrefix is contractCode followed by OP_RETURN; the serialized record
// is a single push after it.
var scriptPrefix = append(append([]byte{}, contractCode...), opReturn)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("escrow: bad contract code constant: %v", err))
	}
	return b
}

// storedBid is the wire form of a Bid inside the state blob.
type storedBid struct {
	Furnisher    []byte
	Amount       uint64
	Plan         string
	TimeRequired uint64
	Bond         uint64
}

// storedRecord is the RLP wire form of a Record. Optional fields flatten to
// empty values: an empty Furnisher means unbound, AcceptedBid stores
// index+1 with zero meaning none, and the resolution flattens behind
// HasResolution.
type storedRecord struct {
	State           uint8
	Seeker          []byte
	Furnisher       []byte
	Description     string
	Deadline        uint64
	Bounty          uint64
	Bids            []storedBid
	AcceptedBid     uint64
	AcceptedAt      uint64
	WorkReport      string
	CompletedAt     uint64
	Evidence        []byte
	HasResolution   bool
	SeekerShare     uint64
	FurnisherShare  uint64
	ResolutionNotes string
}

func toStored(r *Record) *storedRecord {
	stored := &storedRecord{
		State:       uint8(r.State),
		Seeker:      r.Seeker.Bytes(),
		Description: r.Description,
		Deadline:    r.Deadline,
		Bounty:      r.Bounty,
		AcceptedAt:  r.AcceptedAt,
		WorkReport:  r.WorkReport,
		CompletedAt: r.CompletedAt,
	}
	if !r.Furnisher.IsZero() {
		stored.Furnisher = r.Furnisher.Bytes()
	}
	for i := range r.Bids {
		b := &r.Bids[i]
		stored.Bids = append(stored.Bids, storedBid{
			Furnisher:    b.Furnisher.Bytes(),
			Amount:       b.Amount,
			Plan:         b.Plan,
			TimeRequired: b.TimeRequired,
			Bond:         b.Bond,
		})
	}
	if r.AcceptedBid != NoAcceptedBid {
		stored.AcceptedBid = uint64(r.AcceptedBid) + 1
	}
	if !r.Evidence.IsZero() {
		stored.Evidence = r.Evidence.Bytes()
	}
	if r.Resolution != nil {
		stored.HasResolution = true
		stored.SeekerShare = r.Resolution.AmountForSeeker
		stored.FurnisherShare = r.Resolution.AmountForFurnisher
		stored.ResolutionNotes = r.Resolution.Notes
	}
	return stored
}

func fromStored(stored *storedRecord) (*Record, error) {
	seeker, err := crypto.PubKeyFromBytes(stored.Seeker)
	if err != nil {
		return nil, fmt.Errorf("seeker: %w", err)
	}
	rec := &Record{
		State:       State(stored.State),
		Seeker:      seeker,
		Description: stored.Description,
		Deadline:    stored.Deadline,
		Bounty:      stored.Bounty,
		AcceptedBid: NoAcceptedBid,
		AcceptedAt:  stored.AcceptedAt,
		WorkReport:  stored.WorkReport,
		CompletedAt: stored.CompletedAt,
	}
	if len(stored.Furnisher) > 0 {
		furnisher, err := crypto.PubKeyFromBytes(stored.Furnisher)
		if err != nil {
			return nil, fmt.Errorf("furnisher: %w", err)
		}
		rec.Furnisher = furnisher
	}
	for i := range stored.Bids {
		sb := &stored.Bids[i]
		furnisher, err := crypto.PubKeyFromBytes(sb.Furnisher)
		if err != nil {
			return nil, fmt.Errorf("bid %d furnisher: %w", i, err)
		}
		rec.Bids = append(rec.Bids, Bid{
			Furnisher:    furnisher,
			Amount:       sb.Amount,
			Plan:         sb.Plan,
			TimeRequired: sb.TimeRequired,
			Bond:         sb.Bond,
		})
	}
	if stored.AcceptedBid > 0 {
		if stored.AcceptedBid > uint64(len(rec.Bids)) || stored.AcceptedBid > math.MaxInt32 {
			return nil, fmt.Errorf("accepted bid index %d out of range", stored.AcceptedBid-1)
		}
		rec.AcceptedBid = int(stored.AcceptedBid) - 1
	}
	if len(stored.Evidence) > 0 {
		digest, err := crypto.DigestFromBytes(stored.Evidence)
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}
		rec.Evidence = digest
	}
	if stored.HasResolution {
		rec.Resolution = &Resolution{
			AmountForSeeker:    stored.SeekerShare,
			AmountForFurnisher: stored.FurnisherShare,
			Notes:              stored.ResolutionNotes,
		}
	} else if stored.SeekerShare != 0 || stored.FurnisherShare != 0 || stored.ResolutionNotes != "" {
		return nil, fmt.Errorf("resolution fields set without a resolution")
	}
	return rec, nil
}

// EncodeRecord serializes a record into the escrow locking script:
// contract code, OP_RETURN, then one minimal push of the RLP state blob.
// The encoding is deterministic; DecodeRecord inverts it bit for bit.
func EncodeRecord(r *Record) ([]byte, error) {
	sane, err := SanitizeRecord(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	blob, err := rlp.EncodeToBytes(toStored(sane))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	s := script.NewFromBytes(append([]byte{}, scriptPrefix...))
	if err := s.AppendPushData(blob); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return s.Bytes(), nil
}

// DecodeRecord parses an escrow locking script back into a record. Every
// failure wraps ErrDecode: unrecognized prefix, malformed push, RLP shape
// mismatch, invalid keys, or per-state inconsistency.
func DecodeRecord(lockingScript []byte) (*Record, error) {
	if !bytes.HasPrefix(lockingScript, scriptPrefix) {
		return nil, decodeErrf("not an escrow contract script")
	}
	s := script.NewFromBytes(lockingScript[len(scriptPrefix):])
	chunks, err := s.Chunks()
	if err != nil {
		return nil, decodeErrf("state push: %v", err)
	}
	if len(chunks) != 1 || len(chunks[0].Data) == 0 {
		return nil, decodeErrf("state blob must be a single push")
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(chunks[0].Data, &stored); err != nil {
		return nil, decodeErrf("state blob: %v", err)
	}
	rec, err := fromStored(&stored)
	if err != nil {
		return nil, decodeErrf("%v", err)
	}
	sane, err := SanitizeRecord(rec)
	if err != nil {
		return nil, decodeErrf("%v", err)
	}
	return sane, nil
}

// RecordFromOutput decodes a single on-chain output into an escrow
// transaction snapshot. Outputs whose locked satoshis do not equal the
// record's accounted value are rejected: value conservation must hold at
// every decoded state, and a mismatch means the output is not a live escrow.
func RecordFromOutput(txid chainhash.Hash, vout uint32, lockingScript []byte, satoshis uint64) (*Tx, error) {
	rec, err := DecodeRecord(lockingScript)
	if err != nil {
		return nil, err
	}
	locked, err := rec.TotalLocked()
	if err != nil {
		return nil, decodeErrf("%v", err)
	}
	if locked != satoshis {
		return nil, decodeErrf("output carries %d sat, record accounts for %d", satoshis, locked)
	}
	return &Tx{
		Outpoint:      Outpoint{TxID: txid, Vout: vout},
		Satoshis:      satoshis,
		LockingScript: append([]byte(nil), lockingScript...),
		Record:        rec,
	}, nil
}

// RecordsFromAnswer decodes every output entry of a lookup answer,
// discarding entries that fail to decode: a batch may legitimately mix
// escrow and non-escrow outputs under the same topic. The result preserves
// the answer's order and is fully materialized before return.
func RecordsFromAnswer(answer *LookupAnswer) []*Tx {
	if answer == nil {
		return nil
	}
	out := make([]*Tx, 0, len(answer.Outputs))
	for i := range answer.Outputs {
		entry := &answer.Outputs[i]
		tx, err := RecordFromOutput(entry.TxID, entry.Vout, entry.LockingScript, entry.Satoshis)
		if err != nil {
			continue
		}
		if len(entry.SourceTx) > 0 {
			tx.SourceTx = append([]byte(nil), entry.SourceTx...)
		}
		out = append(out, tx)
	}
	return out
}
