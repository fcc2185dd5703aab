package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/vmccharlie/opbutler/internal/chain"
	"github.com/vmccharlie/opbutler/internal/config"
	"github.com/vmccharlie/opbutler/internal/engine"
	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/oracle"
	"github.com/vmccharlie/opbutler/internal/protocol"
	"github.com/vmccharlie/opbutler/internal/state"
	"github.com/vmccharlie/opbutler/internal/web"
)

const (
	defaultParamsConfigName = "default"
	defaultParamsVersion    = 1
)

// main is the entry point for the leveraged position engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("chainID", config.ChainID).Msg("Leveraged position engine starting...")

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	store, err := state.NewStore(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()
	if err := store.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load engine parameters, seeding the defaults on first run
	params, err := store.LoadActiveEngineParameters(defaultParamsConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active engine parameters, using defaults and saving.")
		params = config.DefaultEngineParameters
		if _, err := store.SaveEngineParameters(params, defaultParamsConfigName, defaultParamsVersion, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default engine parameters.")
		}
	}
	log.Info().Msg("Engine parameters loaded successfully.")

	// Price oracle from the configured price table
	priceOracle, err := oracle.NewFixedFromJSON(os.Getenv("PRICE_TABLE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse PRICE_TABLE")
	}

	// Chain clients
	queryClient, err := chain.NewRPCQueryClient(config.NodeRPC)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize node RPC client")
	}
	walletClient, err := chain.NewWalletClient(config.WalletRPC)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize wallet RPC client")
	}

	// Protocol adapters
	poolAdapter, err := protocol.NewPoolAdapter(queryClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pool adapter")
	}
	marketAdapter, err := protocol.NewMarketAdapter(queryClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market adapter")
	}
	registry := protocol.NewRegistry(poolAdapter, marketAdapter)

	// --- 2. Engine Assembly (with Safety Switch) ---
	live := config.ExecutionMode == "live"
	if live {
		log.Warn().Msg("EXECUTION_MODE is 'live'. Real transactions will be broadcast.")
	} else {
		log.Info().Msg("EXECUTION_MODE is not 'live'. Plans will be simulated but never executed.")
	}

	eng, err := engine.New(engine.Config{
		Oracle:            priceOracle,
		Registry:          registry,
		Chain:             walletClient,
		Store:             store,
		Params:            params,
		Live:              live,
		MonitoredAccounts: config.MonitoredAccounts,
		PollInterval:      time.Duration(config.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble engine")
	}

	// --- 3. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	webServer := web.NewWebServer(eng, webPort)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Health Monitor Loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("Shutdown signal received")
		cancel()
	}()

	eng.RunMonitor(ctx)
	log.Info().Msg("Leveraged position engine stopped.")
}

func mustAtoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
