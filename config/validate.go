package config

import (
	"fmt"
	"strings"
)

var (
	MinDisputeWindowSeconds = uint64(3600)
)

func ValidateConfig(g Global) error {
	if strings.TrimSpace(g.NetworkName) == "" {
		return fmt.Errorf("NetworkName is empty")
	}
	if g.Protocol.MinBondBps > 10_000 {
		return fmt.Errorf("protocol: MinBondBps > 10000")
	}
	if g.Protocol.DisputeWindowSecs < MinDisputeWindowSeconds {
		return fmt.Errorf("protocol: DisputeWindowSecs too small")
	}
	if g.Protocol.UnwindDelaySecs == 0 {
		return fmt.Errorf("protocol: UnwindDelaySecs must be positive")
	}
	if g.Protocol.MaxDescriptionBytes <= 0 {
		return fmt.Errorf("protocol: MaxDescriptionBytes <= 0")
	}
	if g.Protocol.FeeRateSatPerKB == 0 {
		return fmt.Errorf("protocol: FeeRateSatPerKB must be positive")
	}
	endpoints := []struct {
		name  string
		value string
	}{
		{"WalletRPC", g.Services.WalletRPC},
		{"Broadcast", g.Services.Broadcast},
		{"Lookup", g.Services.Lookup},
		{"Headers", g.Services.Headers},
	}
	for _, endpoint := range endpoints {
		if strings.TrimSpace(endpoint.value) == "" {
			return fmt.Errorf("services: %s endpoint is empty", endpoint.name)
		}
	}
	if strings.TrimSpace(g.Auth.TokenSecret) != "" && g.Auth.TokenTTLSecs < 60 {
		return fmt.Errorf("auth: TokenTTLSecs too small")
	}
	return nil
}
