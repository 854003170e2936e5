package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nsd-depository/settlement-orchestrator/internal/audit"
	"github.com/nsd-depository/settlement-orchestrator/internal/config"
	"github.com/nsd-depository/settlement-orchestrator/internal/ledger/fabric"
	"github.com/nsd-depository/settlement-orchestrator/internal/logger"
	"github.com/nsd-depository/settlement-orchestrator/internal/resolver"
	"github.com/nsd-depository/settlement-orchestrator/internal/service"
)

const _cfgFilePath = "./configs/orchestrator.yaml"

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(_cfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load config", err)
	}

	accounts, err := config.LoadAccountConfig(cfg, config.DefaultRole)
	if err != nil {
		zapLogger.Fatalf("%s: can't load account config", err)
	}
	res := resolver.New(cfg.DepositoryOwner, accounts, cfg.Peers)

	client, err := fabric.New(fabric.Config{
		ConnectionProfile: cfg.ConnectionProfile,
		Org:               cfg.Org,
		User:              cfg.User,
		InvokesPerSecond:  cfg.InvokesPerSecond,
	}, zapLogger.Named("fabric"))
	if err != nil {
		zapLogger.Fatalf("%s: can't create fabric client", err)
	}
	defer client.Close()

	var rec audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		store, err := audit.NewStore(audit.NewDBConfigFromEnv().Setup(), zapLogger.Named("audit"))
		if err != nil {
			zapLogger.Fatalf("%s: can't create audit store", err)
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			zapLogger.Fatalf("%s: can't init audit store", err)
		}
		rec = store
	}

	svc := service.New(cfg, res, client, rec, zapLogger)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Fatalf("%s: orchestrator stopped", err)
	}
}
