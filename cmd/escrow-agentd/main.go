// Command escrow-agentd serves the three party agents over HTTP: every
// contract operation as an authenticated route, with the engine's transition
// metrics and protocol events exported on /metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Quaakee/paragon-escrow-sub001/broadcast"
	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/cmd/internal/passphrase"
	"github.com/Quaakee/paragon-escrow-sub001/config"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
	"github.com/Quaakee/paragon-escrow-sub001/lookup"
	"github.com/Quaakee/paragon-escrow-sub001/observability"
	"github.com/Quaakee/paragon-escrow-sub001/observability/logging"
	telemetry "github.com/Quaakee/paragon-escrow-sub001/observability/otel"
	"github.com/Quaakee/paragon-escrow-sub001/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "escrow-agentd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return err
	}

	env := strings.TrimSpace(os.Getenv("ESCROW_ENV"))
	logger := logging.Setup("escrow-agentd", env)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("escrow-agentd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	global, err := config.Load(cfg.GlobalConfigPath)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}
	if err := config.ValidateConfig(*global); err != nil {
		return err
	}

	// The shared file may omit the token secret so credentials stay out of
	// checked-in configuration. The environment or a mounted secret file
	// supplies it then.
	if strings.TrimSpace(global.Auth.TokenSecret) == "" {
		_, fromEnv := os.LookupEnv("ESCROW_AGENTD_TOKEN_SECRET")
		if fromEnv || cfg.TokenSecretFile != "" {
			secret, err := passphrase.NewSource("ESCROW_AGENTD_TOKEN_SECRET", cfg.TokenSecretFile, "service token secret").Get()
			if err != nil {
				return err
			}
			global.Auth.TokenSecret = secret
		}
	}

	params, err := global.ProtocolParams()
	if err != nil {
		return err
	}
	tokens, err := global.TokenSource("escrow-agentd")
	if err != nil {
		return err
	}
	verifier, err := global.TokenVerifier()
	if err != nil {
		return err
	}
	if verifier == nil {
		logger.Warn("no token secret configured, serving the agent API unauthenticated")
	}

	signer, err := wallet.NewClient(global.Services.WalletRPC, tokens)
	if err != nil {
		return err
	}
	caster, err := broadcast.NewClient(global.Services.Broadcast, tokens)
	if err != nil {
		return err
	}
	resolver, err := lookup.NewClient(global.Services.Lookup, tokens)
	if err != nil {
		return err
	}
	store, err := chain.OpenLevelHeaderStore(filepath.Join(global.DataDir, "agent-headers"))
	if err != nil {
		return err
	}
	defer store.Close()
	clock, err := chain.NewHeadersClient(global.Services.Headers, "", store)
	if err != nil {
		return err
	}

	engine, err := escrow.NewEngine(params, signer, caster)
	if err != nil {
		return err
	}
	engine.SetEmitter(observability.MetricsEmitter{})

	seeker, err := escrow.NewSeeker(engine, resolver, clock)
	if err != nil {
		return err
	}
	furnisher, err := escrow.NewFurnisher(engine, resolver, clock)
	if err != nil {
		return err
	}
	platform, err := escrow.NewPlatform(engine, resolver)
	if err != nil {
		return err
	}

	server := NewServer(seeker, furnisher, platform, verifier, logger, cfg)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("agent api listening",
			slog.String("listen", cfg.ListenAddress),
			slog.String("network", global.NetworkName),
		)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
