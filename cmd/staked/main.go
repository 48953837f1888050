package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakeledger/config"
	"stakeledger/core"
	"stakeledger/core/genesis"
	"stakeledger/core/state"
	"stakeledger/observability/logging"
	"stakeledger/rpc"
	"stakeledger/storage"
)

var genesisAppliedKey = []byte("meta:genesis-applied")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the staked config file")
	flag.Parse()

	env := os.Getenv("STAKED_ENV")
	if env == "" {
		env = "local"
	}
	logger := logging.Setup("staked", env)
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)
	node.SetStakeParams(cfg.Stake.Params())
	node.SetStakePaused(cfg.Stake.Paused)

	if err := applyGenesis(cfg, db, node); err != nil {
		logger.Error("failed to apply genesis allocations", "path", cfg.GenesisFile, "error", err)
		os.Exit(1)
	}

	rpcServer := rpc.NewServer(node, rpc.Config{
		Auth: rpc.AuthConfig{
			Mode:      rpc.AuthMode(cfg.Auth.Mode),
			Token:     cfg.AuthToken(),
			JWTSecret: cfg.JWTSecret(),
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
		},
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})

	rpcSrv := &http.Server{Addr: cfg.RPCAddress, Handler: rpcServer}
	opsSrv := &http.Server{Addr: cfg.OpsAddress, Handler: opsMux(cfg)}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc server listening", "address", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := rpcSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("ops server listening", "address", cfg.OpsAddress)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcSrv.Shutdown(ctx); err != nil {
		logger.Error("rpc shutdown incomplete", "error", err)
	}
	if err := opsSrv.Shutdown(ctx); err != nil {
		logger.Error("ops shutdown incomplete", "error", err)
	}
}

// applyGenesis seeds wallet balances on first boot. The marker key keeps a
// restart from re-applying allocations over live balances.
func applyGenesis(cfg *config.Config, db storage.Database, node *core.Node) error {
	if cfg.GenesisFile == "" {
		return nil
	}
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	file, err := genesis.Load(cfg.GenesisFile)
	if err != nil {
		return err
	}
	if err := node.WithState(func(m *state.Manager) error {
		return file.Apply(m)
	}); err != nil {
		return err
	}
	return db.Put(genesisAppliedKey, []byte{1})
}

func opsMux(cfg *config.Config) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","network":%q}`, cfg.NetworkName)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
