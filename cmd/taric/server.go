package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lesaloon/taric/pkg/api"
	"github.com/lesaloon/taric/pkg/artifacts"
	"github.com/lesaloon/taric/pkg/audit"
	"github.com/lesaloon/taric/pkg/auth"
	"github.com/lesaloon/taric/pkg/chain"
	"github.com/lesaloon/taric/pkg/config"
	"github.com/lesaloon/taric/pkg/crypto"
	"github.com/lesaloon/taric/pkg/observability"
	"github.com/lesaloon/taric/pkg/trust"
	"github.com/lesaloon/taric/pkg/verifier"
)

func runServer(stderr io.Writer) int {
	ctx := context.Background()

	var cfg *config.Config
	if path := os.Getenv("TARIC_CONFIG"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		cfg = config.Load()
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	signer, err := buildSigner(cfg)
	if err != nil {
		logger.Error("signer init failed", "error", err)
		return 1
	}

	deviceTrust, err := buildTrust(cfg, logger)
	if err != nil {
		logger.Error("trust init failed", "error", err)
		return 1
	}

	store, err := buildChainStore(cfg)
	if err != nil {
		logger.Error("chain store init failed", "error", err)
		return 1
	}

	entryLog, err := buildEntryLog(cfg)
	if err != nil {
		logger.Error("entry log init failed", "error", err)
		return 1
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "taric-verifier",
		Environment:  "production",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTelEnabled,
		Insecure:     true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	schema, err := api.CompileEntrySchema()
	if err != nil {
		logger.Error("schema compile failed", "error", err)
		return 1
	}

	svc := &api.Service{
		Verifier: verifier.New(deviceTrust, store, signer),
		Signer:   signer,
		Log:      entryLog,
		Obs:      obs,
		Schema:   schema,
		Logger:   logger,
	}

	if entryLog != nil {
		packs, err := artifacts.NewStoreFromEnv(ctx)
		if err != nil {
			logger.Error("pack store init failed", "error", err)
			return 1
		}
		svc.Exporter = audit.NewExporter(entryLog)
		svc.Packs = packs
		if tm, err := buildTokenManager(cfg); err != nil {
			logger.Warn("operator tokens disabled", "error", err)
		} else {
			svc.Tokens = tm
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("taric-server listening", "addr", srv.Addr, "signer_id", signer.SignerID())
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildSigner resolves the ack-signing seed: explicit seed, HKDF from the
// master secret, or an ephemeral random seed for demos.
func buildSigner(cfg *config.Config) (*crypto.Ed25519AckSigner, error) {
	if cfg.SignerSeedHex != "" {
		seed, err := hex.DecodeString(cfg.SignerSeedHex)
		if err != nil {
			return nil, fmt.Errorf("decode TARIC_SIGNER_SEED: %w", err)
		}
		return crypto.NewEd25519AckSigner(cfg.SignerID, seed)
	}
	if cfg.MasterSecretHex != "" {
		master, err := hex.DecodeString(cfg.MasterSecretHex)
		if err != nil {
			return nil, fmt.Errorf("decode TARIC_MASTER_SECRET: %w", err)
		}
		seed, err := crypto.DeriveSeed(master, "taric/ack-signer/v1")
		if err != nil {
			return nil, err
		}
		return crypto.NewEd25519AckSigner(cfg.SignerID, seed)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate ephemeral seed: %w", err)
	}
	slog.Warn("no signer seed configured, using ephemeral key; acks will not verify across restarts")
	return crypto.NewEd25519AckSigner(cfg.SignerID, seed)
}

func buildTrust(cfg *config.Config, logger *slog.Logger) (trust.DeviceTrust, error) {
	registry := trust.NewRegistry()
	if cfg.TrustFixtureDir != "" {
		n, err := trust.LoadFixtureDir(registry, cfg.TrustFixtureDir)
		if err != nil {
			return nil, err
		}
		logger.Info("device fixtures loaded", "dir", cfg.TrustFixtureDir, "count", n)
	}
	if cfg.TrustProfilePath != "" {
		n, err := trust.LoadProfile(registry, cfg.TrustProfilePath)
		if err != nil {
			return nil, err
		}
		logger.Info("trust profile loaded", "path", cfg.TrustProfilePath, "count", n)
	}
	if cfg.RevocationPolicy != "" {
		return trust.NewPolicyTrust(registry, cfg.RevocationPolicy)
	}
	return registry, nil
}

func buildChainStore(cfg *config.Config) (chain.Store, error) {
	switch cfg.ChainBackend {
	case "", "memory":
		return chain.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return chain.NewRedisStore(client, ""), nil
	default:
		return nil, fmt.Errorf("unknown chain backend: %s", cfg.ChainBackend)
	}
}

func buildEntryLog(cfg *config.Config) (audit.EntryLog, error) {
	switch cfg.EntryLogBackend {
	case "none":
		return nil, nil
	case "", "file":
		return audit.NewFileEntryLog(cfg.EntryLogPath)
	case "sqlite":
		path := cfg.EntryLogPath
		if path == "" || path == "entries.jsonl" {
			path = "taric.db"
		}
		return audit.OpenSQLiteEntryLog(path)
	case "postgres":
		return audit.OpenPostgresEntryLog(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown entry log backend: %s", cfg.EntryLogBackend)
	}
}

// buildTokenManager derives the operator-token key from the same secrets as
// the signer, under a distinct HKDF purpose.
func buildTokenManager(cfg *config.Config) (*auth.TokenManager, error) {
	var master []byte
	switch {
	case cfg.MasterSecretHex != "":
		m, err := hex.DecodeString(cfg.MasterSecretHex)
		if err != nil {
			return nil, fmt.Errorf("decode TARIC_MASTER_SECRET: %w", err)
		}
		master = m
	case cfg.SignerSeedHex != "":
		m, err := hex.DecodeString(cfg.SignerSeedHex)
		if err != nil {
			return nil, fmt.Errorf("decode TARIC_SIGNER_SEED: %w", err)
		}
		master = m
	default:
		return nil, fmt.Errorf("operator tokens require TARIC_MASTER_SECRET or TARIC_SIGNER_SEED")
	}
	seed, err := crypto.DeriveSeed(master, "taric/operator-tokens/v1")
	if err != nil {
		return nil, err
	}
	return auth.NewTokenManager(seed)
}
