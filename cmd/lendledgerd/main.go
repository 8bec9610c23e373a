package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lendledger/audit"
	"lendledger/config"
	"lendledger/core/events"
	"lendledger/ledger"
	"lendledger/observability/logging"
	"lendledger/observability/metrics"
	telemetry "lendledger/observability/otel"
	"lendledger/oracle"
	"lendledger/rpc"
	"lendledger/state"
	"lendledger/storage"
	"lendledger/vault"
)

const (
	serviceName       = "lendledgerd"
	eventHistoryLimit = 2048
	gaugeInterval     = 30 * time.Second
	shutdownGrace     = 5 * time.Second
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to lendledgerd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := cfg.Log.Environment
	if value := strings.TrimSpace(os.Getenv("LENDLEDGER_ENV")); value != "" {
		env = value
	}
	if _, err := logging.SetupWithFile(serviceName, env, logging.FileRotation{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	if cfg.Otel.Enabled {
		endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		if endpoint == "" {
			endpoint = cfg.Otel.Endpoint
		}
		insecure := cfg.Otel.Insecure
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: serviceName,
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			if shutdownTelemetry != nil {
				_ = shutdownTelemetry(context.Background())
			}
		}()
	}

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		log.Fatalf("open %s storage: %v", cfg.Storage.Backend, err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	vlt := vault.NewVault(db, vault.ModuleAddress)
	pools := oracle.NewMemoryPools()
	adapter := oracle.NewAdapter(manager, pools)
	broker := events.NewBroker(eventHistoryLimit)

	model, err := cfg.RateModel()
	if err != nil {
		log.Fatalf("parse rate model: %v", err)
	}

	engine := ledger.NewEngine(cfg.RiskParams())
	engine.SetState(manager)
	engine.SetOracle(adapter)
	engine.SetVault(vlt)
	engine.SetRateModel(model)
	engine.SetBucketSeconds(cfg.Interest.BucketSeconds)

	sinks := events.Fanout{metrics.NewEmitterSink(), broker}
	if cfg.Audit.Enabled {
		auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			log.Fatalf("open audit sink: %v", err)
		}
		sinks = append(sinks, audit.NewRecorder(auditDB))
		slog.Info("audit sink enabled", "driver", cfg.Audit.Driver, logging.MaskField("dsn", cfg.Audit.DSN))
	}
	engine.SetEmitter(sinks)

	if err := seedOracle(cfg, pools); err != nil {
		log.Fatalf("seed oracle: %v", err)
	}
	if err := seedAssets(cfg, engine); err != nil {
		log.Fatalf("seed assets: %v", err)
	}

	server := rpc.NewServer(rpc.Config{
		Engine:            engine,
		Vault:             vlt,
		Quoter:            adapter,
		Pools:             pools,
		Broker:            broker,
		Logger:            slog.Default(),
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go samplePoolGauges(ctx, engine)

	httpServer := &http.Server{
		Addr:              cfg.RPC.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("rpc server listening", "address", cfg.RPC.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown rpc server", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve rpc: %v", err)
		}
	}
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		return storage.NewBoltDB(cfg.Path)
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

func seedOracle(cfg *config.Config, pools *oracle.MemoryPools) error {
	for _, seed := range cfg.Pairs {
		pool, snapshot, err := seed.Snapshot()
		if err != nil {
			return err
		}
		pools.SetPair(pool, snapshot)
	}
	for _, seed := range cfg.Pools {
		pool, snapshot, err := seed.Snapshot()
		if err != nil {
			return err
		}
		pools.SetPool(pool, snapshot)
	}
	return nil
}

// seedAssets registers any configured assets that are not already in state.
// Seeds are idempotent across restarts.
func seedAssets(cfg *config.Config, engine *ledger.Engine) error {
	for _, seed := range cfg.Assets {
		reg, err := seed.Registration()
		if err != nil {
			return err
		}
		err = engine.RegisterAsset(reg.Token, reg.Weight, reg.Source, reg.BorrowCap)
		if errors.Is(err, ledger.ErrDuplicateAsset) {
			continue
		}
		if err != nil {
			return err
		}
		slog.Info("registered seed asset", "asset", reg.Token.Hex(), "weight", reg.Weight)
	}
	return nil
}

// samplePoolGauges keeps the per-pool gauges fresh for scrapes.
func samplePoolGauges(ctx context.Context, engine *ledger.Engine) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			assets, err := engine.Assets()
			if err != nil {
				slog.Error("sample pools: list assets", "error", err)
				continue
			}
			for _, asset := range assets {
				view, err := engine.PoolOf(asset.Token)
				if err != nil {
					slog.Error("sample pools: load pool", "error", err, "asset", asset.Token.Hex())
					continue
				}
				metrics.Lending().SetPoolState(asset.Token.Hex(), view.LiveIndex, view.Utilization, view.BorrowRate)
			}
		}
	}
}
