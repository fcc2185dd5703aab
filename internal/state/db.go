package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotInitialized   = errors.New("database not initialized")
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrNoActiveParams   = errors.New("no active engine parameters found")
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// Store wraps the connection pool. All persistence goes through a Store
// handed to its consumers, there is no package-level pool.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens the connection pool and verifies connectivity.
func NewStore(cfg DBConfig) (*Store, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storeLogger := logger.GetForComponent("state")
	storeLogger.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Connected to PostgreSQL")

	return &Store{db: db, logger: storeLogger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.db != nil {
		s.logger.Info().Msg("Closing database connection")
		if err := s.db.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// Ping tests if the database connection is healthy.
func (s *Store) Ping() error {
	if s.db == nil {
		return ErrNotInitialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func (s *Store) EnsureSchema() error {
	if s.db == nil {
		return ErrNotInitialized
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS strategies (
			strategy_id TEXT PRIMARY KEY,
			strategy_type VARCHAR(50) NOT NULL,
			protocol VARCHAR(50) NOT NULL,
			collateral_asset VARCHAR(50) NOT NULL,
			debt_asset VARCHAR(50) NOT NULL,
			collateral_market_ref TEXT NOT NULL DEFAULT '',
			debt_market_ref TEXT NOT NULL DEFAULT '',
			collateral_amount DECIMAL(30, 18) NOT NULL,
			debt_amount DECIMAL(30, 18) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_strategies_protocol ON strategies(protocol);
		CREATE INDEX IF NOT EXISTS idx_strategies_created_at ON strategies(created_at DESC);

		CREATE TABLE IF NOT EXISTS health_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			account TEXT NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			score DECIMAL(10, 4) NOT NULL,
			positions JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_health_snapshots_account_timestamp ON health_snapshots(account, snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS engine_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			safety_margin DECIMAL(10, 4) NOT NULL,
			per_cycle_leverage DECIMAL(10, 4) NOT NULL,
			debt_epsilon_usd DECIMAL(20, 8) NOT NULL,
			max_cycles INTEGER NOT NULL,
			min_projected_health_factor DECIMAL(10, 4) NOT NULL,
			danger_health_factor DECIMAL(10, 4) NOT NULL,
			safe_health_factor DECIMAL(10, 4) NOT NULL,
			no_debt_health_factor DECIMAL(10, 4) NOT NULL,
			dust_usd DECIMAL(20, 8) NOT NULL,
			alert_health_factor DECIMAL(10, 4) NOT NULL,
			target_health_factor DECIMAL(10, 4) NOT NULL,
			CONSTRAINT uq_engine_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_engine_parameters_config_active ON engine_parameters(config_name, is_active, activated_at DESC);
	`
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}

	s.logger.Info().Msg("Database schema ensured")
	return nil
}
