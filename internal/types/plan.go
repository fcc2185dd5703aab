/*

This file contains the step and plan types produced by the planners and driven
by the execution state machine.

*/

package types

// StepKind classifies a plan step. Swap/Deposit/EnableCollateral/Borrow are
// emitted by the loop planner; Redeem/Repay/Withdraw by the unwind planner.
type StepKind string

const (
	StepSwap             StepKind = "SWAP"
	StepDeposit          StepKind = "DEPOSIT"
	StepEnableCollateral StepKind = "ENABLE_COLLATERAL"
	StepBorrow           StepKind = "BORROW"
	StepRedeem           StepKind = "REDEEM"
	StepRepay            StepKind = "REPAY"
	StepWithdraw         StepKind = "WITHDRAW"
)

// StepStatus is the lifecycle of a single step. Status is mutated only by the
// execution state machine; steps are never reordered after creation.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepLoading   StepStatus = "loading"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Step is one executable unit of a plan. Amount is denominated in Asset; for
// a Swap, Asset is the token being sold and ToAsset the token bought.
type Step struct {
	ID        string      `json:"id"`
	Kind      StepKind    `json:"kind"`
	Label     string      `json:"label"`
	Asset     AssetSymbol `json:"asset"`
	ToAsset   AssetSymbol `json:"to_asset,omitempty"`
	Amount    float64     `json:"amount"`
	AmountUSD float64     `json:"amount_usd"`
	Status    StepStatus  `json:"status"`
}

// PlanState is the coarse lifecycle of a whole plan under execution.
type PlanState string

const (
	PlanNotStarted PlanState = "not_started"
	PlanInProgress PlanState = "in_progress"
	PlanCompleted  PlanState = "completed"
	PlanPaused     PlanState = "paused"
)

// LoopPlan is an ordered, immutable-once-built sequence of steps reaching a
// target leverage. Rebuilt from scratch whenever any input changes.
type LoopPlan struct {
	ID          string      `json:"id"`
	Protocol    ProtocolID  `json:"protocol"`
	SupplyAsset AssetSymbol `json:"supply_asset"`
	DebtAsset   AssetSymbol `json:"debt_asset"`
	InputAsset  AssetSymbol `json:"input_asset"`
	Principal   float64     `json:"principal"` // input-asset denominated
	Leverage    float64     `json:"leverage"`

	PrincipalUSD  float64 `json:"principal_usd"`
	TargetDebtUSD float64 `json:"target_debt_usd"`
	Cycles        int     `json:"cycles"`

	// Terminal projected state after all steps, used by the simulator.
	TerminalCollateralUSD float64 `json:"terminal_collateral_usd"`
	TerminalDebtUSD       float64 `json:"terminal_debt_usd"`

	Steps []Step `json:"steps"`
}

// Empty reports whether the plan has no executable steps.
func (p *LoopPlan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}
