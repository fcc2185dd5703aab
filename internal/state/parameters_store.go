/*

This file contains persistence for versioned engine parameters. Multiple
versions may exist per config name; at most one is active. Activating a new
version deactivates the old one inside a single transaction.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmccharlie/opbutler/internal/types"
)

// SaveEngineParameters saves a new version of engine parameters.
func (s *Store) SaveEngineParameters(params types.EngineParameters, configName string, version int, makeActive bool) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE engine_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		if _, err = tx.Exec(stmtDeactivate, configName); err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO engine_parameters (
			version, config_name, is_active, activated_at, created_at,
			safety_margin, per_cycle_leverage, debt_epsilon_usd, max_cycles,
			min_projected_health_factor,
			danger_health_factor, safe_health_factor, no_debt_health_factor, dust_usd,
			alert_health_factor, target_health_factor
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10,
			$11, $12, $13, $14,
			$15, $16
		) RETURNING params_id;`

	var paramsID int64
	now := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, now, now,
		params.SafetyMargin, params.PerCycleLeverage, params.DebtEpsilonUSD, params.MaxCycles,
		params.MinProjectedHealthFactor,
		params.DangerHealthFactor, params.SafeHealthFactor, params.NoDebtHealthFactor, params.DustUSD,
		params.AlertHealthFactor, params.TargetHealthFactor,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert engine parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info().
		Int("version", version).
		Str("config", configName).
		Int64("paramsID", paramsID).
		Bool("active", makeActive).
		Msg("Saved engine parameters")
	return paramsID, nil
}

// LoadActiveEngineParameters loads the currently active engine parameters for
// a config name. Returns ErrNoActiveParams when none has been activated yet.
func (s *Store) LoadActiveEngineParameters(configName string) (types.EngineParameters, error) {
	if s.db == nil {
		return types.EngineParameters{}, ErrNotInitialized
	}

	stmt := `
		SELECT safety_margin, per_cycle_leverage, debt_epsilon_usd, max_cycles,
		       min_projected_health_factor,
		       danger_health_factor, safe_health_factor, no_debt_health_factor, dust_usd,
		       alert_health_factor, target_health_factor
		FROM engine_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var params types.EngineParameters
	err := s.db.QueryRow(stmt, configName).Scan(
		&params.SafetyMargin, &params.PerCycleLeverage, &params.DebtEpsilonUSD, &params.MaxCycles,
		&params.MinProjectedHealthFactor,
		&params.DangerHealthFactor, &params.SafeHealthFactor, &params.NoDebtHealthFactor, &params.DustUSD,
		&params.AlertHealthFactor, &params.TargetHealthFactor,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.EngineParameters{}, fmt.Errorf("%w: config %s", ErrNoActiveParams, configName)
	}
	if err != nil {
		return types.EngineParameters{}, fmt.Errorf("failed to load active engine parameters for %s: %w", configName, err)
	}
	return params, nil
}
