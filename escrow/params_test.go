package escrow

import (
	"errors"
	"strings"
	"testing"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
)

func validGlobal() GlobalConfig {
	return GlobalConfig{
		PlatformKey:         fixtureKey(0x0A),
		MinBondBps:          1_000,
		DisputeWindowSecs:   86_400,
		UnwindDelaySecs:     3_600,
		CompletionGraceSecs: 7_200,
		MaxDescriptionBytes: 256,
		FeeRateSatPerKB:     50,
		UnwindPolicy:        UnwindReopen,
	}
}

func TestGlobalConfigValidate(t *testing.T) {
	if err := validGlobal().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"missing platform key", func(g *GlobalConfig) { g.PlatformKey = crypto.PubKey{} }},
		{"bond bps above whole", func(g *GlobalConfig) { g.MinBondBps = 10_001 }},
		{"zero dispute window", func(g *GlobalConfig) { g.DisputeWindowSecs = 0 }},
		{"zero unwind delay", func(g *GlobalConfig) { g.UnwindDelaySecs = 0 }},
		{"zero description cap", func(g *GlobalConfig) { g.MaxDescriptionBytes = 0 }},
		{"invalid unwind policy", func(g *GlobalConfig) { g.UnwindPolicy = UnwindPolicy(9) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := validGlobal()
			tc.mutate(&g)
			if err := g.Validate(); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestMinBondRoundsUp(t *testing.T) {
	g := validGlobal() // 10%
	cases := []struct {
		amount uint64
		want   uint64
	}{
		{0, 0},
		{1, 1},
		{9, 1},
		{10, 1},
		{900, 90},
		{999, 100},
		{1_000, 100},
	}
	for _, tc := range cases {
		if got := g.MinBond(tc.amount); got != tc.want {
			t.Fatalf("MinBond(%d) = %d, want %d", tc.amount, got, tc.want)
		}
	}
	g.MinBondBps = 0
	if got := g.MinBond(1_000_000); got != 0 {
		t.Fatalf("zero bps must not require a bond, got %d", got)
	}
}

func TestNormalizeText(t *testing.T) {
	g := validGlobal()

	got, err := g.NormalizeText("plan", "  fix the roof  ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "fix the roof" {
		t.Fatalf("expected trimmed text, got %q", got)
	}

	// Decomposed and precomposed forms must canonicalize identically:
	// contract state bytes may not depend on the caller's editor.
	composed, err := g.NormalizeText("plan", "rénover la toiture")
	if err != nil {
		t.Fatalf("normalize composed: %v", err)
	}
	decomposed, err := g.NormalizeText("plan", "rénover la toiture")
	if err != nil {
		t.Fatalf("normalize decomposed: %v", err)
	}
	if composed != decomposed {
		t.Fatalf("NFC forms differ: %q vs %q", composed, decomposed)
	}

	if _, err := g.NormalizeText("plan", "   "); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected empty rejection, got %v", err)
	}
	if _, err := g.NormalizeText("plan", strings.Repeat("a", 257)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	if _, err := g.NormalizeText("plan", string([]byte{0xff, 0xfe})); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected invalid UTF-8 rejection, got %v", err)
	}
}

func TestParseUnwindPolicy(t *testing.T) {
	policy, err := ParseUnwindPolicy("reopen")
	if err != nil || policy != UnwindReopen {
		t.Fatalf("parse reopen: %v %v", policy, err)
	}
	policy, err = ParseUnwindPolicy("cancel")
	if err != nil || policy != UnwindCancel {
		t.Fatalf("parse cancel: %v %v", policy, err)
	}
	if _, err := ParseUnwindPolicy("explode"); err == nil {
		t.Fatalf("expected rejection for unknown policy")
	}
	if UnwindReopen.String() != "reopen" || UnwindCancel.String() != "cancel" {
		t.Fatalf("unexpected policy strings")
	}
}

func TestNewSeekRecord(t *testing.T) {
	g := validGlobal()
	now := chain.Time{Height: 100, MedianTime: 1_700_000_000}
	seeker := fixtureKey(0x01)

	rec, err := NewSeekRecord(g, seeker, "  paint the fence  ", 1_700_000_100, now)
	if err != nil {
		t.Fatalf("new seek record: %v", err)
	}
	if rec.State != StateOpen || rec.Bounty != 0 || rec.AcceptedBid != NoAcceptedBid {
		t.Fatalf("unexpected initial record: %+v", rec)
	}
	if rec.Description != "paint the fence" {
		t.Fatalf("description not normalized: %q", rec.Description)
	}

	if _, err := NewSeekRecord(g, crypto.PubKey{}, "paint the fence", 1_700_000_100, now); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected unset seeker rejection, got %v", err)
	}
	if _, err := NewSeekRecord(g, seeker, "paint the fence", 1_700_000_000, now); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected deadline-at-now rejection, got %v", err)
	}
	if _, err := NewSeekRecord(g, seeker, "paint the fence", 1_700_000_100, chain.Time{}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected unset chain time rejection, got %v", err)
	}
}
