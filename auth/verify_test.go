package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testVerifier(t *testing.T, issuer, audience string) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(testSecret, issuer, audience)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func TestVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(nil, "", ""); err == nil {
		t.Fatal("expected missing secret to be rejected")
	}
}

func TestVerifyAcceptsMintedToken(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	source := testSource(t, nil)
	source.now = func() time.Time { return base }
	raw, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	verifier := testVerifier(t, "escrow-watch", "escrow-overlay")
	verifier.now = func() time.Time { return base.Add(time.Minute) }
	subject, err := verifier.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "seeker-agent" {
		t.Fatalf("subject = %q", subject)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	source := testSource(t, func(cfg *HS256Config) { cfg.Secret = []byte("some-other-secret") })
	source.now = func() time.Time { return base }
	raw, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	verifier := testVerifier(t, "", "")
	verifier.now = func() time.Time { return base }
	if _, err := verifier.Verify(raw); err == nil {
		t.Fatal("expected a signature mismatch to be rejected")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	source := testSource(t, nil)
	source.now = func() time.Time { return base }
	raw, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	verifier := testVerifier(t, "", "")
	verifier.now = func() time.Time { return base.Add(10*time.Minute + verifyLeeway + time.Second) }
	if _, err := verifier.Verify(raw); err == nil {
		t.Fatal("expected an expired token to be rejected")
	}
}

func TestVerifyChecksIssuerAndAudience(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	source := testSource(t, nil)
	source.now = func() time.Time { return base }
	raw, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	badIssuer := testVerifier(t, "other-service", "escrow-overlay")
	badIssuer.now = func() time.Time { return base }
	if _, err := badIssuer.Verify(raw); err == nil {
		t.Fatal("expected an issuer mismatch to be rejected")
	}

	badAudience := testVerifier(t, "escrow-watch", "other-audience")
	badAudience.now = func() time.Time { return base }
	if _, err := badAudience.Verify(raw); err == nil {
		t.Fatal("expected an audience mismatch to be rejected")
	}
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "seeker-agent",
		ExpiresAt: jwt.NewNumericDate(base.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(base),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	verifier := testVerifier(t, "", "")
	verifier.now = func() time.Time { return base }
	if _, err := verifier.Verify(raw); err == nil {
		t.Fatal("expected the none algorithm to be rejected")
	}
}

func TestVerifyRequiresSubject(t *testing.T) {
	base := time.Unix(1_756_100_000, 0).UTC()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(base.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(base),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	verifier := testVerifier(t, "", "")
	verifier.now = func() time.Time { return base }
	if _, err := verifier.Verify(raw); err == nil {
		t.Fatal("expected a subjectless token to be rejected")
	}
}
