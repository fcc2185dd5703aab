/*

This file contains the execution state machine that drives a plan step by
step. Each Advance call performs exactly one primary step; token approvals are
handled implicitly inside the same call and never consume a step index. A
failed step pauses the machine at the current index, and calling Advance again
retries that same step.

*/

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/chain"
	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/protocol"
	"github.com/vmccharlie/opbutler/internal/types"
	"github.com/vmccharlie/opbutler/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilPlan         = errors.New("execution requires a plan")
	ErrNilAdapter      = errors.New("execution requires a protocol adapter")
	ErrNilChainClient  = errors.New("execution requires a chain client")
	ErrEmptyAccount    = errors.New("execution requires an account")
	ErrStepFailed      = errors.New("step execution failed")
	ErrApprovalFailed  = errors.New("token approval failed")
	ErrUnsupportedStep = errors.New("unsupported step kind")
	ErrAbandoned       = errors.New("execution was abandoned")
)

// Execution drives one plan against one protocol for one account. It is safe
// for a single goroutine; the mutex guards State/StepIndex readers (the web
// layer) against a concurrently advancing monitor.
type Execution struct {
	mu sync.Mutex

	plan    *types.LoopPlan
	adapter protocol.Adapter
	chain   chain.Client
	account string

	index     int
	state     types.PlanState
	abandoned bool

	logger zerolog.Logger
}

// New builds an execution over a fully built plan. An empty plan is valid and
// completes on the first Advance.
func New(plan *types.LoopPlan, adapter protocol.Adapter, chainClient chain.Client, account string) (*Execution, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	if chainClient == nil {
		return nil, ErrNilChainClient
	}
	if account == "" {
		return nil, ErrEmptyAccount
	}

	return &Execution{
		plan:    plan,
		adapter: adapter,
		chain:   chainClient,
		account: account,
		state:   types.PlanNotStarted,
		logger:  logger.GetForComponent("executor"),
	}, nil
}

// State returns the machine's coarse lifecycle state.
func (e *Execution) State() types.PlanState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StepIndex returns the index of the next step to execute.
func (e *Execution) StepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Plan returns the plan under execution. Step statuses reflect progress.
func (e *Execution) Plan() *types.LoopPlan {
	return e.plan
}

// PartiallyOpen reports whether some steps completed but the plan did not
// finish. A partially open position still exists on chain and must be
// inspected or unwound by the operator.
func (e *Execution) PartiallyOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != types.PlanCompleted && e.index > 0
}

// Abandon stops the execution permanently. Completed steps are not reverted;
// the resulting position, if any, remains open.
func (e *Execution) Abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == types.PlanCompleted {
		return
	}
	e.abandoned = true
	e.state = types.PlanPaused
	e.logger.Warn().
		Str("planID", e.plan.ID).
		Int("completedSteps", e.index).
		Int("totalSteps", len(e.plan.Steps)).
		Msg("Execution abandoned, position may be partially open")
}

// Advance executes the next pending step. It returns true once every step has
// completed. On failure the step is marked errored and the machine pauses at
// the same index; calling Advance again retries the step from its allowance
// check onward.
func (e *Execution) Advance(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.abandoned {
		e.mu.Unlock()
		return false, ErrAbandoned
	}
	if e.state == types.PlanCompleted {
		e.mu.Unlock()
		return true, nil
	}
	if e.index >= len(e.plan.Steps) {
		e.state = types.PlanCompleted
		e.mu.Unlock()
		return true, nil
	}

	step := &e.plan.Steps[e.index]
	step.Status = types.StepLoading
	e.state = types.PlanInProgress
	e.mu.Unlock()

	e.logger.Info().
		Str("planID", e.plan.ID).
		Int("stepIndex", e.index).
		Str("kind", string(step.Kind)).
		Str("label", step.Label).
		Msg("Executing step")

	if err := e.ensureAllowance(ctx, step); err != nil {
		e.pause(step, err)
		return false, err
	}

	action, err := e.buildAction(ctx, step)
	if err != nil {
		e.pause(step, err)
		return false, err
	}

	result, err := e.chain.Submit(ctx, action)
	if err != nil {
		e.pause(step, err)
		return false, errors.Join(ErrStepFailed, err)
	}
	if !result.Confirmed {
		err := fmt.Errorf("%w: transaction %s failed: %s", ErrStepFailed, result.TxRef, result.ErrorMessage)
		e.pause(step, err)
		return false, err
	}

	e.mu.Lock()
	step.Status = types.StepCompleted
	e.index++
	done := e.index >= len(e.plan.Steps)
	if done {
		e.state = types.PlanCompleted
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("planID", e.plan.ID).
		Str("txRef", result.TxRef).
		Float64("gasFeeUSD", result.GasFeeUSD).
		Bool("planCompleted", done).
		Msg("Step completed")

	return done, nil
}

// Run drives the execution to completion, stopping on the first failed step.
func (e *Execution) Run(ctx context.Context) error {
	for {
		done, err := e.Advance(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// pause marks the current step errored and the machine paused.
func (e *Execution) pause(step *types.Step, cause error) {
	e.mu.Lock()
	step.Status = types.StepError
	e.state = types.PlanPaused
	e.mu.Unlock()

	e.logger.Error().
		Err(cause).
		Str("planID", e.plan.ID).
		Int("stepIndex", e.index).
		Str("kind", string(step.Kind)).
		Msg("Step failed, execution paused")
}

// spendKind maps a step to the action the protocol must be allowed to spend
// for. Steps that move no tokens out of the account need no allowance.
func spendKind(kind types.StepKind) (types.ActionKind, bool) {
	switch kind {
	case types.StepSwap:
		return types.ActionSwap, true
	case types.StepDeposit:
		return types.ActionSupply, true
	case types.StepRepay:
		return types.ActionRepay, true
	default:
		return "", false
	}
}

// ensureAllowance submits an implicit approval when the protocol's current
// allowance does not cover the step amount. The approval shares the step's
// Advance call and does not consume a step index.
func (e *Execution) ensureAllowance(ctx context.Context, step *types.Step) error {
	actionKind, needed := spendKind(step.Kind)
	if !needed {
		return nil
	}

	asset, err := e.adapter.Asset(ctx, step.Asset)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}

	required, err := utils.Float64ToSDKInt(step.Amount, asset.Precision)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}

	allowance, err := e.adapter.Allowance(ctx, e.account, step.Asset, actionKind)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if allowance.GTE(required) {
		return nil
	}

	e.logger.Info().
		Str("asset", string(step.Asset)).
		Str("allowance", allowance.String()).
		Str("required", required.String()).
		Msg("Allowance insufficient, submitting approval")

	approve, err := e.adapter.Approve(ctx, e.account, step.Asset, actionKind, step.Amount)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}

	result, err := e.chain.Submit(ctx, approve)
	if err != nil {
		return errors.Join(ErrApprovalFailed, err)
	}
	if !result.Confirmed {
		return fmt.Errorf("%w: transaction %s failed: %s", ErrApprovalFailed, result.TxRef, result.ErrorMessage)
	}
	return nil
}

// buildAction asks the adapter for the step's primary write action.
func (e *Execution) buildAction(ctx context.Context, step *types.Step) (types.Action, error) {
	switch step.Kind {
	case types.StepSwap:
		return e.adapter.Swap(ctx, e.account, step.Asset, step.ToAsset, step.Amount)
	case types.StepDeposit:
		return e.adapter.Supply(ctx, e.account, step.Asset, step.Amount)
	case types.StepEnableCollateral:
		return e.adapter.EnableCollateral(ctx, e.account, step.Asset)
	case types.StepBorrow:
		return e.adapter.Borrow(ctx, e.account, step.Asset, step.Amount)
	case types.StepRepay:
		return e.adapter.Repay(ctx, e.account, step.Asset, step.Amount)
	case types.StepRedeem, types.StepWithdraw:
		return e.adapter.Withdraw(ctx, e.account, step.Asset, step.Amount)
	default:
		return types.Action{}, fmt.Errorf("%w: %s", ErrUnsupportedStep, step.Kind)
	}
}
