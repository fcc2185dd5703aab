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
	ErrInvalidLeverage  = errors.New("leverage must be non-negative and finite")
	ErrInvalidPrincipal = errors.New("principal is not finite")
	ErrInvalidLTV       = errors.New("loan-to-value is invalid")
	ErrPriceUnavailable = errors.New("price unavailable for a required asset")
	ErrInvalidParams    = errors.New("engine parameters contain invalid values")
)

// Inputs carries everything the loop planner needs. Prices and LTV are
// snapshots taken by the caller immediately before planning; the plan is
// rebuilt whenever any of them changes.
type Inputs struct {
	Protocol    types.ProtocolID
	SupplyAsset types.Asset // PriceUSD and LoanToValue filled
	DebtAsset   types.Asset // PriceUSD filled
	InputAsset  types.AssetSymbol
	InputPrice  float64
	Principal   float64 // input-asset denominated
	Leverage    float64

	RequiresCollateralEnable bool
	CollateralEnabled        bool
}

// BuildLoopPlan produces the ordered step sequence that takes a principal to
// the requested leverage: optional input swap, initial deposit, optional
// collateral activation, then bounded borrow/swap/deposit cycles. The
// returned plan is immutable apart from step statuses.
func BuildLoopPlan(in Inputs, params types.EngineParameters) (*types.LoopPlan, error) {
	planLogger := logger.GetForComponent("loop_planner")

	if err := validateInputs(in, params); err != nil {
		planLogger.Error().Err(err).Msg("Loop plan input validation failed")
		return nil, err
	}

	plan := &types.LoopPlan{
		ID:          uuid.New().String(),
		Protocol:    in.Protocol,
		SupplyAsset: in.SupplyAsset.Symbol,
		DebtAsset:   in.DebtAsset.Symbol,
		InputAsset:  in.InputAsset,
		Principal:   in.Principal,
		Leverage:    in.Leverage,
	}

	// A non-positive principal yields an empty, non-executable plan.
	if in.Principal <= 0 {
		planLogger.Debug().Float64("principal", in.Principal).Msg("Non-positive principal, returning empty plan")
		return plan, nil
	}

	if in.InputPrice <= 0 || in.SupplyAsset.PriceUSD <= 0 || in.DebtAsset.PriceUSD <= 0 {
		return nil, errors.Join(ErrPriceUnavailable,
			fmt.Errorf("prices: input=%f supply=%f debt=%f", in.InputPrice, in.SupplyAsset.PriceUSD, in.DebtAsset.PriceUSD))
	}

	principalUSD := in.Principal * in.InputPrice
	plan.PrincipalUSD = principalUSD

	if in.InputAsset != in.SupplyAsset.Symbol {
		plan.Steps = append(plan.Steps, types.Step{
			ID:        uuid.New().String(),
			Kind:      types.StepSwap,
			Label:     fmt.Sprintf("Swap %s into %s", in.InputAsset, in.SupplyAsset.Symbol),
			Asset:     in.InputAsset,
			ToAsset:   in.SupplyAsset.Symbol,
			Amount:    in.Principal,
			AmountUSD: principalUSD,
			Status:    types.StepPending,
		})
	}

	plan.Steps = append(plan.Steps, types.Step{
		ID:        uuid.New().String(),
		Kind:      types.StepDeposit,
		Label:     fmt.Sprintf("Deposit %s as collateral", in.SupplyAsset.Symbol),
		Asset:     in.SupplyAsset.Symbol,
		Amount:    principalUSD / in.SupplyAsset.PriceUSD,
		AmountUSD: principalUSD,
		Status:    types.StepPending,
	})

	if in.RequiresCollateralEnable && !in.CollateralEnabled {
		plan.Steps = append(plan.Steps, types.Step{
			ID:     uuid.New().String(),
			Kind:   types.StepEnableCollateral,
			Label:  fmt.Sprintf("Enable %s as collateral", in.SupplyAsset.Symbol),
			Asset:  in.SupplyAsset.Symbol,
			Status: types.StepPending,
		})
	}

	targetDebtUSD := principalUSD * (in.Leverage - 1)
	if targetDebtUSD < 0 {
		targetDebtUSD = 0
	}
	plan.TargetDebtUSD = targetDebtUSD

	numCycles := int(math.Ceil((in.Leverage - 1) / params.PerCycleLeverage))
	if numCycles < 1 {
		numCycles = 1
	}
	if numCycles > params.MaxCycles {
		numCycles = params.MaxCycles
	}

	currentCollateralUSD := principalUSD
	currentDebtUSD := 0.0
	emittedCycles := 0

	for cycle := 0; cycle < numCycles; cycle++ {
		maxAllowedBorrowUSD := currentCollateralUSD * in.SupplyAsset.LoanToValue * params.SafetyMargin

		cycleBorrowUSD := maxAllowedBorrowUSD - currentDebtUSD
		if cycleBorrowUSD < 0 {
			cycleBorrowUSD = 0
		}
		if remaining := targetDebtUSD - currentDebtUSD; cycleBorrowUSD > remaining {
			cycleBorrowUSD = remaining
		}

		// Goal reached within tolerance, or the LTV ceiling leaves no
		// headroom: emitting a dust cycle would only burn gas.
		if cycleBorrowUSD < params.DebtEpsilonUSD {
			break
		}

		borrowAmount := cycleBorrowUSD / in.DebtAsset.PriceUSD
		depositAmount := cycleBorrowUSD / in.SupplyAsset.PriceUSD

		plan.Steps = append(plan.Steps,
			types.Step{
				ID:        uuid.New().String(),
				Kind:      types.StepBorrow,
				Label:     fmt.Sprintf("Borrow %s (cycle %d)", in.DebtAsset.Symbol, cycle+1),
				Asset:     in.DebtAsset.Symbol,
				Amount:    borrowAmount,
				AmountUSD: cycleBorrowUSD,
				Status:    types.StepPending,
			},
			types.Step{
				ID:        uuid.New().String(),
				Kind:      types.StepSwap,
				Label:     fmt.Sprintf("Swap %s into %s (cycle %d)", in.DebtAsset.Symbol, in.SupplyAsset.Symbol, cycle+1),
				Asset:     in.DebtAsset.Symbol,
				ToAsset:   in.SupplyAsset.Symbol,
				Amount:    borrowAmount,
				AmountUSD: cycleBorrowUSD,
				Status:    types.StepPending,
			},
			types.Step{
				ID:        uuid.New().String(),
				Kind:      types.StepDeposit,
				Label:     fmt.Sprintf("Redeposit %s (cycle %d)", in.SupplyAsset.Symbol, cycle+1),
				Asset:     in.SupplyAsset.Symbol,
				Amount:    depositAmount,
				AmountUSD: cycleBorrowUSD,
				Status:    types.StepPending,
			},
		)

		currentDebtUSD += cycleBorrowUSD
		currentCollateralUSD += cycleBorrowUSD
		emittedCycles++
	}

	plan.Cycles = emittedCycles
	plan.TerminalCollateralUSD = currentCollateralUSD
	plan.TerminalDebtUSD = currentDebtUSD

	planLogger.Info().
		Str("planID", plan.ID).
		Str("protocol", string(in.Protocol)).
		Float64("principalUSD", principalUSD).
		Float64("leverage", in.Leverage).
		Int("cycles", emittedCycles).
		Int("steps", len(plan.Steps)).
		Float64("terminalDebtUSD", currentDebtUSD).
		Msg("Loop plan built")

	return plan, nil
}

// validateInputs performs comprehensive validation of planner inputs.
func validateInputs(in Inputs, params types.EngineParameters) error {
	if math.IsNaN(in.Principal) || math.IsInf(in.Principal, 0) {
		return ErrInvalidPrincipal
	}
	if math.IsNaN(in.Leverage) || math.IsInf(in.Leverage, 0) || in.Leverage < 0 {
		return errors.Join(ErrInvalidLeverage, fmt.Errorf("leverage: %f", in.Leverage))
	}
	if math.IsNaN(in.InputPrice) || math.IsInf(in.InputPrice, 0) || in.InputPrice < 0 {
		return errors.Join(ErrPriceUnavailable, fmt.Errorf("input price is invalid: %f", in.InputPrice))
	}
	if math.IsNaN(in.SupplyAsset.PriceUSD) || math.IsInf(in.SupplyAsset.PriceUSD, 0) || in.SupplyAsset.PriceUSD < 0 {
		return errors.Join(ErrPriceUnavailable, fmt.Errorf("supply price is invalid: %f", in.SupplyAsset.PriceUSD))
	}
	if math.IsNaN(in.DebtAsset.PriceUSD) || math.IsInf(in.DebtAsset.PriceUSD, 0) || in.DebtAsset.PriceUSD < 0 {
		return errors.Join(ErrPriceUnavailable, fmt.Errorf("debt price is invalid: %f", in.DebtAsset.PriceUSD))
	}
	if math.IsNaN(in.SupplyAsset.LoanToValue) || math.IsInf(in.SupplyAsset.LoanToValue, 0) ||
		in.SupplyAsset.LoanToValue < 0 || in.SupplyAsset.LoanToValue >= 1 {
		return errors.Join(ErrInvalidLTV, fmt.Errorf("ltv: %f", in.SupplyAsset.LoanToValue))
	}
	return validateParams(params)
}

// validateParams validates the subset of engine parameters the planner uses.
func validateParams(params types.EngineParameters) error {
	if math.IsNaN(params.SafetyMargin) || math.IsInf(params.SafetyMargin, 0) ||
		params.SafetyMargin <= 0 || params.SafetyMargin > 1 {
		return errors.Join(ErrInvalidParams, errors.New("safety margin must be in (0, 1]"))
	}
	if math.IsNaN(params.PerCycleLeverage) || math.IsInf(params.PerCycleLeverage, 0) || params.PerCycleLeverage <= 0 {
		return errors.Join(ErrInvalidParams, errors.New("per-cycle leverage must be positive"))
	}
	if math.IsNaN(params.DebtEpsilonUSD) || math.IsInf(params.DebtEpsilonUSD, 0) || params.DebtEpsilonUSD <= 0 {
		return errors.Join(ErrInvalidParams, errors.New("debt epsilon must be positive"))
	}
	if params.MaxCycles <= 0 {
		return errors.Join(ErrInvalidParams, errors.New("max cycles must be positive"))
	}
	return nil
}
