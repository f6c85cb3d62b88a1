package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"lukechampine.com/blake3"
)

// PubKeySize is the length of a compressed secp256k1 public key.
const PubKeySize = 33

// PubKey is a compressed secp256k1 public key as it appears inside escrow
// records and unlocking scripts. The zero value means "not assigned yet"
// (for example the furnisher slot of an Open escrow).
type PubKey [PubKeySize]byte

// PubKeyFromBytes validates b as a compressed point on the curve and wraps it.
func PubKeyFromBytes(b []byte) (PubKey, error) {
	var pk PubKey
	if len(b) != PubKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", PubKeySize, len(b))
	}
	if _, err := ec.ParsePubKey(b); err != nil {
		return pk, fmt.Errorf("invalid public key: %w", err)
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePubKey decodes a hex-encoded compressed public key.
func ParsePubKey(s string) (PubKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PubKey{}, fmt.Errorf("invalid public key hex: %w", err)
	}
	return PubKeyFromBytes(raw)
}

// FromEC wraps a parsed curve point into a PubKey.
func FromEC(pub *ec.PublicKey) PubKey {
	if pub == nil {
		panic("crypto: nil public key")
	}
	var pk PubKey
	copy(pk[:], pub.Compressed())
	return pk
}

func (pk PubKey) Bytes() []byte {
	out := make([]byte, PubKeySize)
	copy(out, pk[:])
	return out
}

func (pk PubKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Short returns an abbreviated form for logs and event attributes.
func (pk PubKey) Short() string {
	s := pk.String()
	return s[:8] + ".." + s[len(s)-6:]
}

func (pk PubKey) IsZero() bool {
	return pk == PubKey{}
}

func (pk PubKey) Equal(other PubKey) bool {
	return bytes.Equal(pk[:], other[:])
}

// EC re-parses the key as a curve point, for callers that need to build
// payment scripts or verify signatures against it.
func (pk PubKey) EC() (*ec.PublicKey, error) {
	if pk.IsZero() {
		return nil, fmt.Errorf("public key is unset")
	}
	pub, err := ec.ParsePubKey(pk[:])
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pub, nil
}

// Hash160 returns the RIPEMD160(SHA256) digest of the compressed key, the
// form payment scripts lock to.
func (pk PubKey) Hash160() ([]byte, error) {
	pub, err := pk.EC()
	if err != nil {
		return nil, err
	}
	return pub.Hash(), nil
}

// DigestSize is the length of an evidence digest.
const DigestSize = 32

// Digest is a BLAKE3 commitment to off-chain material (dispute evidence).
// Records carry the digest; the material itself is served off-chain.
type Digest [DigestSize]byte

const evidenceDomain = "paragon/escrow/evidence/v1"

// DigestEvidence commits to a piece of dispute evidence. The domain prefix
// keeps evidence digests distinct from any other BLAKE3 use of the payload.
func DigestEvidence(payload []byte) Digest {
	buf := make([]byte, 0, len(evidenceDomain)+1+len(payload))
	buf = append(buf, evidenceDomain...)
	buf = append(buf, 0x00)
	buf = append(buf, payload...)
	return Digest(blake3.Sum256(buf))
}

// DigestFromBytes wraps a raw 32-byte digest read back from a record.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}
