package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment
// variables. Populated at startup by LoadConfig.
var (
	// ChainID is the chain ID of the target network.
	ChainID string

	// MonitoredAccounts are the account addresses the health monitor polls.
	MonitoredAccounts []string

	// PollIntervalSeconds is the health monitor poll interval.
	PollIntervalSeconds int

	// ExecutionMode must be "live" for the engine to broadcast transactions.
	ExecutionMode string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All listed variables are required unless noted.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	ChainID, err = getEnv("CHAIN_ID")
	if err != nil {
		return err
	}

	accounts, err := getEnv("MONITORED_ACCOUNTS")
	if err != nil {
		return err
	}
	MonitoredAccounts = nil
	for _, a := range strings.Split(accounts, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			MonitoredAccounts = append(MonitoredAccounts, a)
		}
	}

	PollIntervalSeconds, err = getEnvAsInt("POLL_INTERVAL_SECONDS", 15)
	if err != nil {
		return err
	}

	ExecutionMode = os.Getenv("EXECUTION_MODE")

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("ChainID", ChainID).
		Int("MonitoredAccounts", len(MonitoredAccounts)).
		Int("PollIntervalSeconds", PollIntervalSeconds).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int, falling back to a
// default when unset.
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
