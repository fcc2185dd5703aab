package planner

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidRecord = errors.New("strategy record contains invalid amounts")
)

// BuildUnwindPlan produces the fixed four-step reverse sequence for an open
// position: redeem collateral, swap it into the debt asset, repay the debt,
// withdraw what remains. The redeem amount is computed exactly from current
// debt and prices rather than redeeming a flat fraction.
func BuildUnwindPlan(record types.StrategyRecord, collateralPrice, debtPrice float64) ([]types.Step, error) {
	unwindLogger := logger.GetForComponent("unwind_planner")

	if math.IsNaN(record.CollateralAmount) || math.IsInf(record.CollateralAmount, 0) || record.CollateralAmount <= 0 {
		return nil, errors.Join(ErrInvalidRecord, fmt.Errorf("collateral amount: %f", record.CollateralAmount))
	}
	if math.IsNaN(record.DebtAmount) || math.IsInf(record.DebtAmount, 0) || record.DebtAmount < 0 {
		return nil, errors.Join(ErrInvalidRecord, fmt.Errorf("debt amount: %f", record.DebtAmount))
	}
	if collateralPrice <= 0 || math.IsNaN(collateralPrice) || math.IsInf(collateralPrice, 0) {
		return nil, errors.Join(ErrPriceUnavailable, fmt.Errorf("collateral price: %f", collateralPrice))
	}
	if debtPrice <= 0 || math.IsNaN(debtPrice) || math.IsInf(debtPrice, 0) {
		return nil, errors.Join(ErrPriceUnavailable, fmt.Errorf("debt price: %f", debtPrice))
	}

	debtUSD := record.DebtAmount * debtPrice

	// Exactly enough collateral to cover the outstanding debt after the swap.
	redeemAmount := debtUSD / collateralPrice
	if redeemAmount > record.CollateralAmount {
		redeemAmount = record.CollateralAmount
	}
	remaining := record.CollateralAmount - redeemAmount

	steps := []types.Step{
		{
			ID:        uuid.New().String(),
			Kind:      types.StepRedeem,
			Label:     fmt.Sprintf("Redeem %s to cover debt", record.CollateralAsset),
			Asset:     record.CollateralAsset,
			Amount:    redeemAmount,
			AmountUSD: redeemAmount * collateralPrice,
			Status:    types.StepPending,
		},
		{
			ID:        uuid.New().String(),
			Kind:      types.StepSwap,
			Label:     fmt.Sprintf("Swap %s into %s", record.CollateralAsset, record.DebtAsset),
			Asset:     record.CollateralAsset,
			ToAsset:   record.DebtAsset,
			Amount:    redeemAmount,
			AmountUSD: redeemAmount * collateralPrice,
			Status:    types.StepPending,
		},
		{
			ID:        uuid.New().String(),
			Kind:      types.StepRepay,
			Label:     fmt.Sprintf("Repay %s debt", record.DebtAsset),
			Asset:     record.DebtAsset,
			Amount:    record.DebtAmount,
			AmountUSD: debtUSD,
			Status:    types.StepPending,
		},
		{
			ID:        uuid.New().String(),
			Kind:      types.StepWithdraw,
			Label:     fmt.Sprintf("Withdraw remaining %s", record.CollateralAsset),
			Asset:     record.CollateralAsset,
			Amount:    remaining,
			AmountUSD: remaining * collateralPrice,
			Status:    types.StepPending,
		},
	}

	unwindLogger.Info().
		Str("strategyID", record.ID).
		Float64("redeemAmount", redeemAmount).
		Float64("repayAmount", record.DebtAmount).
		Float64("remainingCollateral", remaining).
		Msg("Unwind plan built")

	return steps, nil
}
