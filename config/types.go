package config

// Protocol captures the escrow parameter set enforced on every transition.
// Values here are immutable for the lifetime of a process.
type Protocol struct {
	PlatformKey         string `toml:"PlatformKey"`
	MinBondBps          uint32 `toml:"MinBondBps"`
	DisputeWindowSecs   uint64 `toml:"DisputeWindowSecs"`
	UnwindDelaySecs     uint64 `toml:"UnwindDelaySecs"`
	CompletionGraceSecs uint64 `toml:"CompletionGraceSecs"`
	MaxDescriptionBytes int    `toml:"MaxDescriptionBytes"`
	FeeRateSatPerKB     uint64 `toml:"FeeRateSatPerKB"`
	UnwindPolicy        string `toml:"UnwindPolicy"`
}

// Services names the collaborator endpoints an agent process depends on.
type Services struct {
	WalletRPC string `toml:"WalletRPC"`
	Broadcast string `toml:"Broadcast"`
	Lookup    string `toml:"Lookup"`
	Headers   string `toml:"Headers"`
}

// Auth holds the bearer-token settings shared by the service clients. An
// empty secret disables token minting and the clients send no credentials.
type Auth struct {
	TokenSecret   string `toml:"TokenSecret"`
	TokenIssuer   string `toml:"TokenIssuer"`
	TokenAudience string `toml:"TokenAudience"`
	TokenTTLSecs  uint64 `toml:"TokenTTLSecs"`
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	NetworkName string   `toml:"NetworkName"`
	DataDir     string   `toml:"DataDir"`
	Protocol    Protocol `toml:"protocol"`
	Services    Services `toml:"services"`
	Auth        Auth     `toml:"auth"`
}
