package crypto

import (
	"bytes"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

func testKey(t *testing.T, fill byte) PubKey {
	t.Helper()
	seed := bytes.Repeat([]byte{fill}, 32)
	priv, _ := ec.PrivateKeyFromBytes(seed)
	if priv == nil {
		t.Fatalf("private key from seed %x", fill)
	}
	return FromEC(priv.PubKey())
}

func TestPubKeyRoundTrip(t *testing.T) {
	pk := testKey(t, 0x11)
	parsed, err := ParsePubKey(pk.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(pk) {
		t.Fatalf("round trip mismatch: %s != %s", parsed, pk)
	}
	fromBytes, err := PubKeyFromBytes(pk.Bytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if fromBytes != pk {
		t.Fatalf("bytes round trip mismatch")
	}
}

func TestPubKeyValidation(t *testing.T) {
	if _, err := PubKeyFromBytes(make([]byte, 32)); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := PubKeyFromBytes(make([]byte, 33)); err == nil {
		t.Fatalf("expected curve error for all-zero key")
	}
	if _, err := ParsePubKey("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
	var zero PubKey
	if !zero.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	if zero.Equal(testKey(t, 0x22)) {
		t.Fatalf("zero key equal to real key")
	}
	if _, err := zero.EC(); err == nil {
		t.Fatalf("EC on zero key must fail")
	}
}

func TestPubKeyShort(t *testing.T) {
	pk := testKey(t, 0x33)
	short := pk.Short()
	if len(short) != 16 {
		t.Fatalf("short form length = %d, want 16", len(short))
	}
	full := pk.String()
	if short[:8] != full[:8] || short[len(short)-6:] != full[len(full)-6:] {
		t.Fatalf("short form %q does not bracket %q", short, full)
	}
}

func TestPubKeyHash160(t *testing.T) {
	pk := testKey(t, 0x44)
	h, err := pk.Hash160()
	if err != nil {
		t.Fatalf("hash160: %v", err)
	}
	if len(h) != 20 {
		t.Fatalf("hash160 length = %d, want 20", len(h))
	}
	again, err := pk.Hash160()
	if err != nil {
		t.Fatalf("hash160: %v", err)
	}
	if !bytes.Equal(h, again) {
		t.Fatalf("hash160 not deterministic")
	}
}

func TestDigestEvidence(t *testing.T) {
	a := DigestEvidence([]byte("delivered work does not match the plan"))
	b := DigestEvidence([]byte("delivered work does not match the plan"))
	if a != b {
		t.Fatalf("digest not deterministic")
	}
	c := DigestEvidence([]byte("other evidence"))
	if a == c {
		t.Fatalf("distinct payloads collided")
	}
	if a.IsZero() {
		t.Fatalf("digest of non-empty payload is zero")
	}
	back, err := DigestFromBytes(a.Bytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if back != a {
		t.Fatalf("digest round trip mismatch")
	}
	if _, err := DigestFromBytes(a.Bytes()[:31]); err == nil {
		t.Fatalf("expected length error")
	}
}
