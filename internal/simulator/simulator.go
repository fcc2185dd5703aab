/*

This file contains the simulation guard. Every plan passes through Evaluate
before execution; a rejection carries the numeric projection that tripped the
rule, not just a boolean.

*/

package simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrEmptyPlan    = errors.New("cannot evaluate an empty plan")
	ErrInvalidPlan  = errors.New("plan terminal state is invalid")
	ErrInvalidAsset = errors.New("asset data for evaluation is invalid")
)

// RejectReason names the acceptance rule a plan failed.
type RejectReason string

const (
	ReasonHealthFactorTooLow RejectReason = "HealthFactorTooLow"
	ReasonNegativeYield      RejectReason = "NegativeYield"
)

// Rejection is one failed rule with the projection that caused it.
type Rejection struct {
	Reason    RejectReason `json:"reason"`
	Projected float64      `json:"projected"`
	Threshold float64      `json:"threshold"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: projected %.4f vs threshold %.4f", r.Reason, r.Projected, r.Threshold)
}

// Result is the simulator verdict for one plan.
type Result struct {
	ProjectedHealthFactor float64     `json:"projected_health_factor"`
	ProjectedAPY          float64     `json:"projected_apy"` // net yield on principal, fraction
	Accepted              bool        `json:"accepted"`
	Rejections            []Rejection `json:"rejections,omitempty"`
}

// Evaluate runs the plan's terminal projected state through the acceptance
// rules. A plan that clears both the health-factor floor and the
// non-negative-yield rule is accepted; there are no other rules.
func Evaluate(plan *types.LoopPlan, supplyAsset, debtAsset types.Asset, params types.EngineParameters) (Result, error) {
	simLogger := logger.GetForComponent("simulator")

	if plan.Empty() {
		return Result{}, ErrEmptyPlan
	}
	if !isFinite(plan.TerminalCollateralUSD) || !isFinite(plan.TerminalDebtUSD) ||
		plan.TerminalCollateralUSD < 0 || plan.TerminalDebtUSD < 0 {
		return Result{}, errors.Join(ErrInvalidPlan,
			fmt.Errorf("terminal collateral=%f debt=%f", plan.TerminalCollateralUSD, plan.TerminalDebtUSD))
	}
	if plan.PrincipalUSD <= 0 || !isFinite(plan.PrincipalUSD) {
		return Result{}, errors.Join(ErrInvalidPlan, fmt.Errorf("principal USD: %f", plan.PrincipalUSD))
	}
	if !isFinite(supplyAsset.LoanToValue) || supplyAsset.LoanToValue < 0 || supplyAsset.LoanToValue >= 1 {
		return Result{}, errors.Join(ErrInvalidAsset, fmt.Errorf("ltv: %f", supplyAsset.LoanToValue))
	}
	if !isFinite(supplyAsset.SupplyRateAPR) || !isFinite(debtAsset.BorrowRateAPR) {
		return Result{}, errors.Join(ErrInvalidAsset, errors.New("rates are not finite"))
	}

	var projectedHF float64
	if plan.TerminalDebtUSD <= params.DustUSD {
		projectedHF = params.NoDebtHealthFactor
	} else {
		projectedHF = (plan.TerminalCollateralUSD * supplyAsset.LoanToValue) / plan.TerminalDebtUSD
	}

	grossAPYUSD := plan.TerminalCollateralUSD*supplyAsset.SupplyRateAPR - plan.TerminalDebtUSD*debtAsset.BorrowRateAPR
	projectedAPY := grossAPYUSD / plan.PrincipalUSD

	result := Result{
		ProjectedHealthFactor: projectedHF,
		ProjectedAPY:          projectedAPY,
	}

	if projectedHF < params.MinProjectedHealthFactor {
		result.Rejections = append(result.Rejections, Rejection{
			Reason:    ReasonHealthFactorTooLow,
			Projected: projectedHF,
			Threshold: params.MinProjectedHealthFactor,
		})
	}
	if projectedAPY < 0 {
		result.Rejections = append(result.Rejections, Rejection{
			Reason:    ReasonNegativeYield,
			Projected: projectedAPY,
			Threshold: 0,
		})
	}

	result.Accepted = len(result.Rejections) == 0

	simLogger.Info().
		Str("planID", plan.ID).
		Float64("projectedHealthFactor", projectedHF).
		Float64("projectedAPY", projectedAPY).
		Bool("accepted", result.Accepted).
		Msg("Plan evaluated")

	return result, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
