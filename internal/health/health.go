/*

This file contains the health calculator: it aggregates adapter readings per
protocol into ProtocolPosition views, derives the health factor where the
protocol does not report one, and computes the 0-10 dashboard score plus
remediation suggestions for the alerting path.

Pure computation over adapter reads; safe to call at any frequency.

*/

package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/oracle"
	"github.com/vmccharlie/opbutler/internal/protocol"
	"github.com/vmccharlie/opbutler/internal/types"
	"github.com/vmccharlie/opbutler/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilDependency  = errors.New("calculator dependency cannot be nil")
	ErrInvalidReading = errors.New("adapter reading is invalid")
)

// Calculator derives account health views from adapter readings and oracle
// prices.
type Calculator struct {
	registry *protocol.Registry
	oracle   oracle.PriceOracle
	params   types.EngineParameters
	logger   zerolog.Logger
}

// NewCalculator builds a calculator over the configured adapters and oracle.
func NewCalculator(registry *protocol.Registry, priceOracle oracle.PriceOracle, params types.EngineParameters) (*Calculator, error) {
	if registry == nil || priceOracle == nil {
		return nil, ErrNilDependency
	}
	return &Calculator{
		registry: registry,
		oracle:   priceOracle,
		params:   params,
		logger:   logger.GetForComponent("health_calculator"),
	}, nil
}

// ComputeHealth returns the per-protocol position view for one account. A
// protocol whose adapter read fails is reported as an error for the whole
// call; partial views would silently understate risk.
func (c *Calculator) ComputeHealth(ctx context.Context, account string) (map[types.ProtocolID]types.ProtocolPosition, error) {
	positions := make(map[types.ProtocolID]types.ProtocolPosition)

	for _, adapter := range c.registry.All() {
		data, err := adapter.AccountData(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s account data: %w", adapter.Protocol(), err)
		}

		var position types.ProtocolPosition
		if data.Aggregate {
			position, err = c.positionFromAggregate(data)
		} else {
			position, err = c.positionFromMarkets(data)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s position: %w", adapter.Protocol(), err)
		}

		positions[adapter.Protocol()] = position
	}

	return positions, nil
}

// Snapshot computes health for one account and wraps it with the dashboard
// score and a timestamp.
func (c *Calculator) Snapshot(ctx context.Context, account string) (types.HealthSnapshot, error) {
	positions, err := c.ComputeHealth(ctx, account)
	if err != nil {
		return types.HealthSnapshot{}, err
	}
	return types.HealthSnapshot{
		Account:   account,
		Timestamp: time.Now().UTC(),
		Positions: positions,
		Score:     Score(positions),
	}, nil
}

// positionFromAggregate handles pool-style adapters that report USD totals
// and a health factor directly.
func (c *Calculator) positionFromAggregate(data types.AccountData) (types.ProtocolPosition, error) {
	if !isFinite(data.CollateralUSD) || !isFinite(data.DebtUSD) || !isFinite(data.HealthFactor) {
		return types.ProtocolPosition{}, fmt.Errorf("%w: aggregate totals are not finite", ErrInvalidReading)
	}
	if data.CollateralUSD < 0 || data.DebtUSD < 0 {
		return types.ProtocolPosition{}, fmt.Errorf("%w: aggregate totals are negative", ErrInvalidReading)
	}

	healthFactor := data.HealthFactor
	if data.DebtUSD <= c.params.DustUSD {
		healthFactor = c.params.NoDebtHealthFactor
	}

	return c.classify(data.Protocol, data.CollateralUSD, data.DebtUSD, healthFactor, 0), nil
}

// positionFromMarkets handles Compound-style adapters: USD totals are summed
// across markets at oracle prices, and the health factor is derived from
// account liquidity or shortfall.
func (c *Calculator) positionFromMarkets(data types.AccountData) (types.ProtocolPosition, error) {
	var supplyUSD, debtUSD float64

	for _, market := range data.Markets {
		price := c.oracle.GetPrice(market.Symbol)
		if price == 0 {
			// Unknown price: the balance contributes nothing rather than
			// failing the whole account view.
			c.logger.Warn().Str("symbol", string(market.Symbol)).Msg("Price unavailable, market excluded from USD totals")
			continue
		}

		supply, err := utils.SDKIntToFloat64(market.SupplyBalance, market.Precision)
		if err != nil {
			return types.ProtocolPosition{}, fmt.Errorf("failed to convert %s supply balance: %w", market.Symbol, err)
		}
		borrow, err := utils.SDKIntToFloat64(market.BorrowBalance, market.Precision)
		if err != nil {
			return types.ProtocolPosition{}, fmt.Errorf("failed to convert %s borrow balance: %w", market.Symbol, err)
		}

		supplyUSD += supply * price
		debtUSD += borrow * price
	}

	if !isFinite(supplyUSD) || !isFinite(debtUSD) {
		return types.ProtocolPosition{}, fmt.Errorf("%w: market totals are not finite", ErrInvalidReading)
	}

	var healthFactor float64
	switch {
	case debtUSD <= c.params.DustUSD:
		healthFactor = c.params.NoDebtHealthFactor
	case data.ShortfallUSD > 0:
		healthFactor = (debtUSD - data.ShortfallUSD) / debtUSD
	default:
		healthFactor = (data.AvailableLiquidityUSD + debtUSD) / debtUSD
	}

	return c.classify(data.Protocol, supplyUSD, debtUSD, healthFactor, data.ShortfallUSD), nil
}

// classify fills the status and hasPositions fields from the derived numbers.
func (c *Calculator) classify(protocolID types.ProtocolID, supplyUSD, debtUSD, healthFactor, shortfallUSD float64) types.ProtocolPosition {
	hasPositions := supplyUSD > c.params.DustUSD || debtUSD > c.params.DustUSD || shortfallUSD > c.params.DustUSD

	status := types.StatusSafe
	switch {
	case !hasPositions:
		status = types.StatusInactive
	case shortfallUSD > 0 || healthFactor <= c.params.DangerHealthFactor:
		status = types.StatusDanger
	case healthFactor <= c.params.SafeHealthFactor:
		status = types.StatusWarning
	}

	return types.ProtocolPosition{
		Protocol:     protocolID,
		SupplyUSD:    supplyUSD,
		DebtUSD:      debtUSD,
		HealthFactor: healthFactor,
		Status:       status,
		HasPositions: hasPositions,
	}
}

// Score maps the account's protocol positions to a 0-10 dashboard signal:
// the average of min(2, HF) across protocols with positions, scaled by 5.
// Protocols with no positions do not affect the average.
func Score(positions map[types.ProtocolID]types.ProtocolPosition) float64 {
	var sum float64
	var active int

	for _, pos := range positions {
		if !pos.HasPositions {
			continue
		}
		hf := pos.HealthFactor
		if hf > 2 {
			hf = 2
		}
		if hf < 0 {
			hf = 0
		}
		sum += hf
		active++
	}

	if active == 0 {
		return 0
	}

	score := (sum / float64(active)) * 5
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

// EffectiveLTV infers the blended loan-to-value backing a position from its
// current readings (HF = collateral * LTV / debt). Returns 0 when the
// position has no debt or no collateral.
func EffectiveLTV(pos types.ProtocolPosition) float64 {
	if pos.SupplyUSD <= 0 || pos.DebtUSD <= 0 {
		return 0
	}
	ltv := (pos.HealthFactor * pos.DebtUSD) / pos.SupplyUSD
	if !isFinite(ltv) || ltv <= 0 {
		return 0
	}
	if ltv >= 1 {
		ltv = 0.99
	}
	return ltv
}

// SuggestRemediation computes the corrective amounts that would restore the
// target health factor: either repay part of the debt or add collateral.
func SuggestRemediation(collateralUSD, debtUSD, avgLTV, targetHF float64) types.Remediation {
	if avgLTV <= 0 || targetHF <= 0 {
		return types.Remediation{}
	}

	repay := debtUSD - (collateralUSD*avgLTV)/targetHF
	if repay < 0 || !isFinite(repay) {
		repay = 0
	}

	addCollateral := (targetHF*debtUSD)/avgLTV - collateralUSD
	if addCollateral < 0 || !isFinite(addCollateral) {
		addCollateral = 0
	}

	return types.Remediation{
		RepayAmountUSD:         repay,
		AddCollateralAmountUSD: addCollateral,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
