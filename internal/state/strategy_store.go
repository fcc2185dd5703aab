/*

This file contains persistence for strategy records. A record exists for the
lifetime of an open leveraged position: written after the opening plan
completes, deleted after a successful unwind.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vmccharlie/opbutler/internal/types"
)

// SaveStrategy upserts a strategy record. Last write wins per id.
func (s *Store) SaveStrategy(record types.StrategyRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if record.ID == "" {
		return errors.New("strategy record requires an id")
	}

	stmt := `
		INSERT INTO strategies (
			strategy_id, strategy_type, protocol,
			collateral_asset, debt_asset,
			collateral_market_ref, debt_market_ref,
			collateral_amount, debt_amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (strategy_id) DO UPDATE SET
			strategy_type = EXCLUDED.strategy_type,
			protocol = EXCLUDED.protocol,
			collateral_asset = EXCLUDED.collateral_asset,
			debt_asset = EXCLUDED.debt_asset,
			collateral_market_ref = EXCLUDED.collateral_market_ref,
			debt_market_ref = EXCLUDED.debt_market_ref,
			collateral_amount = EXCLUDED.collateral_amount,
			debt_amount = EXCLUDED.debt_amount;`

	_, err := s.db.Exec(stmt,
		record.ID, string(record.Type), string(record.Protocol),
		string(record.CollateralAsset), string(record.DebtAsset),
		record.CollateralMarketRef, record.DebtMarketRef,
		record.CollateralAmount, record.DebtAmount, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", record.ID, err)
	}

	s.logger.Info().
		Str("strategyID", record.ID).
		Str("protocol", string(record.Protocol)).
		Str("collateralAsset", string(record.CollateralAsset)).
		Str("debtAsset", string(record.DebtAsset)).
		Msg("Saved strategy record")
	return nil
}

// GetStrategy loads one strategy record by id.
func (s *Store) GetStrategy(id string) (types.StrategyRecord, error) {
	if s.db == nil {
		return types.StrategyRecord{}, ErrNotInitialized
	}

	stmt := `
		SELECT strategy_id, strategy_type, protocol,
		       collateral_asset, debt_asset,
		       collateral_market_ref, debt_market_ref,
		       collateral_amount, debt_amount, created_at
		FROM strategies WHERE strategy_id = $1;`

	var record types.StrategyRecord
	var strategyType, protocol, collateralAsset, debtAsset string
	err := s.db.QueryRow(stmt, id).Scan(
		&record.ID, &strategyType, &protocol,
		&collateralAsset, &debtAsset,
		&record.CollateralMarketRef, &record.DebtMarketRef,
		&record.CollateralAmount, &record.DebtAmount, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StrategyRecord{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if err != nil {
		return types.StrategyRecord{}, fmt.Errorf("failed to load strategy %s: %w", id, err)
	}

	record.Type = types.StrategyType(strategyType)
	record.Protocol = types.ProtocolID(protocol)
	record.CollateralAsset = types.AssetSymbol(collateralAsset)
	record.DebtAsset = types.AssetSymbol(debtAsset)
	return record, nil
}

// ListStrategies returns all open strategy records, newest first.
func (s *Store) ListStrategies() ([]types.StrategyRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	stmt := `
		SELECT strategy_id, strategy_type, protocol,
		       collateral_asset, debt_asset,
		       collateral_market_ref, debt_market_ref,
		       collateral_amount, debt_amount, created_at
		FROM strategies ORDER BY created_at DESC;`

	rows, err := s.db.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var records []types.StrategyRecord
	for rows.Next() {
		var record types.StrategyRecord
		var strategyType, protocol, collateralAsset, debtAsset string
		if err := rows.Scan(
			&record.ID, &strategyType, &protocol,
			&collateralAsset, &debtAsset,
			&record.CollateralMarketRef, &record.DebtMarketRef,
			&record.CollateralAmount, &record.DebtAmount, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		record.Type = types.StrategyType(strategyType)
		record.Protocol = types.ProtocolID(protocol)
		record.CollateralAsset = types.AssetSymbol(collateralAsset)
		record.DebtAsset = types.AssetSymbol(debtAsset)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strategy rows: %w", err)
	}
	return records, nil
}

// RemoveStrategy deletes a strategy record after a successful unwind.
func (s *Store) RemoveStrategy(id string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	result, err := s.db.Exec(`DELETE FROM strategies WHERE strategy_id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to remove strategy %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check removal of strategy %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}

	s.logger.Info().Str("strategyID", id).Msg("Removed strategy record")
	return nil
}
