package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Quaakee/paragon-escrow-sub001/chain"
	"github.com/Quaakee/paragon-escrow-sub001/config"
	"github.com/Quaakee/paragon-escrow-sub001/lookup"
	"github.com/Quaakee/paragon-escrow-sub001/observability/logging"
	telemetry "github.com/Quaakee/paragon-escrow-sub001/observability/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "escrow-watch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./escrow-watch.yaml", "path to watcher configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROW_ENV"))
	logger := logging.Setup("escrow-watch", env)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("escrow-watch", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	global, err := config.Load(cfg.GlobalConfigPath)
	if err != nil {
		return fmt.Errorf("load global config: %w", err)
	}
	if err := config.ValidateConfig(*global); err != nil {
		return fmt.Errorf("global config: %w", err)
	}
	params, err := global.ProtocolParams()
	if err != nil {
		return err
	}
	tokens, err := global.TokenSource("escrow-watch")
	if err != nil {
		return err
	}

	resolver, err := lookup.NewClient(global.Services.Lookup, tokens)
	if err != nil {
		return err
	}
	store, err := chain.OpenLevelHeaderStore(filepath.Join(global.DataDir, "headers"))
	if err != nil {
		return err
	}
	defer store.Close()
	clock, err := chain.NewHeadersClient(global.Services.Headers, "", store)
	if err != nil {
		return err
	}

	dial := func(ctx context.Context, topics ...string) (noticeStream, error) {
		return resolver.Subscribe(ctx, topics...)
	}
	watcher := NewWatcher(resolver, clock, dial, params, cfg, logger)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !watcher.Ready() {
			http.Error(w, "waiting for first poll", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watcher.Run(stopCtx)
	go watcher.RunStream(stopCtx)

	errs := make(chan error, 1)
	go func() {
		logger.Info("watcher listening", slog.String("listen", cfg.ListenAddress))
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
