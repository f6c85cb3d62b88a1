package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/crypto"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
)

// ProtocolParams converts the on-disk protocol section into the runtime
// parameter set, validated the way the engine will enforce it.
func (g Global) ProtocolParams() (escrow.GlobalConfig, error) {
	var params escrow.GlobalConfig
	key := strings.TrimSpace(g.Protocol.PlatformKey)
	if key == "" {
		return params, fmt.Errorf("protocol: PlatformKey is required")
	}
	platform, err := crypto.ParsePubKey(key)
	if err != nil {
		return params, fmt.Errorf("protocol: invalid PlatformKey: %w", err)
	}
	policy, err := escrow.ParseUnwindPolicy(g.Protocol.UnwindPolicy)
	if err != nil {
		return params, fmt.Errorf("protocol: %w", err)
	}
	params = escrow.GlobalConfig{
		PlatformKey:         platform,
		MinBondBps:          g.Protocol.MinBondBps,
		DisputeWindowSecs:   g.Protocol.DisputeWindowSecs,
		UnwindDelaySecs:     g.Protocol.UnwindDelaySecs,
		CompletionGraceSecs: g.Protocol.CompletionGraceSecs,
		MaxDescriptionBytes: g.Protocol.MaxDescriptionBytes,
		FeeRateSatPerKB:     g.Protocol.FeeRateSatPerKB,
		UnwindPolicy:        policy,
	}
	if err := params.Validate(); err != nil {
		return escrow.GlobalConfig{}, fmt.Errorf("protocol: %w", err)
	}
	return params, nil
}

// TokenSource builds the bearer-token source for a process acting as the
// supplied subject. An empty secret yields the unauthenticated source.
func (g Global) TokenSource(subject string) (auth.TokenSource, error) {
	if strings.TrimSpace(g.Auth.TokenSecret) == "" {
		return auth.None, nil
	}
	cfg := auth.HS256Config{
		Secret:  []byte(g.Auth.TokenSecret),
		Issuer:  g.Auth.TokenIssuer,
		Subject: subject,
		TTL:     time.Duration(g.Auth.TokenTTLSecs) * time.Second,
	}
	if audience := strings.TrimSpace(g.Auth.TokenAudience); audience != "" {
		cfg.Audience = []string{audience}
	}
	source, err := auth.NewHS256Source(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return source, nil
}

// TokenVerifier builds the verifier for tokens minted under this
// configuration. An empty secret returns nil, meaning inbound requests are
// not authenticated.
func (g Global) TokenVerifier() (*auth.Verifier, error) {
	if strings.TrimSpace(g.Auth.TokenSecret) == "" {
		return nil, nil
	}
	verifier, err := auth.NewVerifier([]byte(g.Auth.TokenSecret), g.Auth.TokenIssuer, g.Auth.TokenAudience)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return verifier, nil
}
