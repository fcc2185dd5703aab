/*

This file contains the engine orchestrator. It wires the oracle, adapters,
planners, simulator, executor and state store together behind the operations
the command layer and web server call: open a leveraged loop, unwind one, and
compute account health. All dependencies are injected through Config.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/chain"
	"github.com/vmccharlie/opbutler/internal/executor"
	"github.com/vmccharlie/opbutler/internal/health"
	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/oracle"
	"github.com/vmccharlie/opbutler/internal/planner"
	"github.com/vmccharlie/opbutler/internal/protocol"
	"github.com/vmccharlie/opbutler/internal/simulator"
	"github.com/vmccharlie/opbutler/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNilDependency       = errors.New("engine dependency cannot be nil")
	ErrPlanRejected        = errors.New("plan rejected by simulation")
	ErrExecutionIncomplete = errors.New("execution did not complete, position may be partially open")
	ErrNotLive             = errors.New("engine is not in live execution mode")
)

// Store is the persistence surface the engine needs. *state.Store satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	SaveStrategy(record types.StrategyRecord) error
	GetStrategy(id string) (types.StrategyRecord, error)
	ListStrategies() ([]types.StrategyRecord, error)
	RemoveStrategy(id string) error
	SaveSnapshot(snapshot types.HealthSnapshot) error
	ListSnapshots(account string, limit int) ([]types.HealthSnapshot, error)
}

// Config carries the engine's injected dependencies.
type Config struct {
	Oracle   oracle.PriceOracle
	Registry *protocol.Registry
	Chain    chain.Client
	Store    Store
	Params   types.EngineParameters

	// Live must be true for the engine to broadcast transactions. When false
	// OpenLoop and Unwind stop after planning and simulation.
	Live bool

	// Monitoring
	MonitoredAccounts []string
	PollInterval      time.Duration
}

// Engine is the orchestrator for all leveraged position operations.
type Engine struct {
	cfg        Config
	calculator *health.Calculator
	logger     zerolog.Logger
}

// New validates the configuration and builds the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Oracle == nil || cfg.Registry == nil || cfg.Chain == nil || cfg.Store == nil {
		return nil, ErrNilDependency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}

	calculator, err := health.NewCalculator(cfg.Registry, cfg.Oracle, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to build health calculator: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		calculator: calculator,
		logger:     logger.GetForComponent("engine"),
	}, nil
}

// OpenLoopRequest describes one leveraged loop to open.
type OpenLoopRequest struct {
	Account     string            `json:"account"`
	Protocol    types.ProtocolID  `json:"protocol"`
	SupplyAsset types.AssetSymbol `json:"supply_asset"`
	DebtAsset   types.AssetSymbol `json:"debt_asset"`
	InputAsset  types.AssetSymbol `json:"input_asset"`
	Principal   float64           `json:"principal"` // input-asset denominated
	Leverage    float64           `json:"leverage"`
}

// OpenLoopResult reports the plan, its simulation verdict and, when execution
// ran to completion, the persisted strategy record.
type OpenLoopResult struct {
	Plan       *types.LoopPlan       `json:"plan"`
	Simulation simulator.Result      `json:"simulation"`
	Record     *types.StrategyRecord `json:"record,omitempty"`
	Executed   bool                  `json:"executed"`
}

// PreviewLoop plans and simulates a loop without executing anything.
func (e *Engine) PreviewLoop(ctx context.Context, req OpenLoopRequest) (OpenLoopResult, error) {
	plan, supplyAsset, debtAsset, err := e.planLoop(ctx, req)
	if err != nil {
		return OpenLoopResult{}, err
	}
	if plan.Empty() {
		return OpenLoopResult{Plan: plan}, nil
	}

	simResult, err := simulator.Evaluate(plan, supplyAsset, debtAsset, e.cfg.Params)
	if err != nil {
		return OpenLoopResult{}, fmt.Errorf("failed to evaluate plan: %w", err)
	}
	return OpenLoopResult{Plan: plan, Simulation: simResult}, nil
}

// OpenLoop plans, simulates and executes a leveraged loop, persisting the
// strategy record once every step confirms. A simulation rejection aborts
// before any transaction is submitted.
func (e *Engine) OpenLoop(ctx context.Context, req OpenLoopRequest) (OpenLoopResult, error) {
	result, err := e.PreviewLoop(ctx, req)
	if err != nil {
		return OpenLoopResult{}, err
	}
	if result.Plan.Empty() {
		return result, nil
	}
	if !result.Simulation.Accepted {
		reasons := make([]string, 0, len(result.Simulation.Rejections))
		for _, r := range result.Simulation.Rejections {
			reasons = append(reasons, r.String())
		}
		return result, fmt.Errorf("%w: %s", ErrPlanRejected, strings.Join(reasons, "; "))
	}
	if !e.cfg.Live {
		e.logger.Info().Str("planID", result.Plan.ID).Msg("Not in live mode, skipping execution")
		return result, nil
	}

	adapter, err := e.cfg.Registry.Get(req.Protocol)
	if err != nil {
		return result, err
	}

	exec, err := executor.New(result.Plan, adapter, e.cfg.Chain, req.Account)
	if err != nil {
		return result, err
	}
	if err := exec.Run(ctx); err != nil {
		if exec.PartiallyOpen() {
			return result, errors.Join(ErrExecutionIncomplete, err)
		}
		return result, err
	}
	result.Executed = true

	record, err := e.buildRecord(ctx, adapter, req, result.Plan)
	if err != nil {
		return result, err
	}
	if err := e.cfg.Store.SaveStrategy(record); err != nil {
		// The position is open on chain even though the record write failed.
		return result, errors.Join(ErrExecutionIncomplete, err)
	}
	result.Record = &record

	e.logger.Info().
		Str("strategyID", record.ID).
		Str("protocol", string(record.Protocol)).
		Float64("leverage", req.Leverage).
		Int("cycles", result.Plan.Cycles).
		Msg("Leveraged loop opened")
	return result, nil
}

// Unwind closes an open strategy: redeem, swap, repay, withdraw. The record
// is removed only after every step confirms.
func (e *Engine) Unwind(ctx context.Context, strategyID, account string) (*types.LoopPlan, error) {
	record, err := e.cfg.Store.GetStrategy(strategyID)
	if err != nil {
		return nil, err
	}

	collateralPrice := e.cfg.Oracle.GetPrice(record.CollateralAsset)
	debtPrice := e.cfg.Oracle.GetPrice(record.DebtAsset)

	steps, err := planner.BuildUnwindPlan(record, collateralPrice, debtPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to build unwind plan for %s: %w", strategyID, err)
	}

	plan := &types.LoopPlan{
		ID:          uuid.New().String(),
		Protocol:    record.Protocol,
		SupplyAsset: record.CollateralAsset,
		DebtAsset:   record.DebtAsset,
		Steps:       steps,
	}

	if !e.cfg.Live {
		e.logger.Info().Str("strategyID", strategyID).Msg("Not in live mode, returning unwind plan without executing")
		return plan, nil
	}

	adapter, err := e.cfg.Registry.Get(record.Protocol)
	if err != nil {
		return plan, err
	}

	exec, err := executor.New(plan, adapter, e.cfg.Chain, account)
	if err != nil {
		return plan, err
	}
	if err := exec.Run(ctx); err != nil {
		if exec.PartiallyOpen() {
			return plan, errors.Join(ErrExecutionIncomplete, err)
		}
		return plan, err
	}

	if err := e.cfg.Store.RemoveStrategy(strategyID); err != nil {
		return plan, err
	}

	e.logger.Info().
		Str("strategyID", strategyID).
		Str("protocol", string(record.Protocol)).
		Msg("Strategy unwound and removed")
	return plan, nil
}

// CheckHealth computes the current health snapshot for one account.
func (e *Engine) CheckHealth(ctx context.Context, account string) (types.HealthSnapshot, error) {
	return e.calculator.Snapshot(ctx, account)
}

// Strategies lists all open strategy records.
func (e *Engine) Strategies() ([]types.StrategyRecord, error) {
	return e.cfg.Store.ListStrategies()
}

// SnapshotHistory returns recent health snapshots for one account.
func (e *Engine) SnapshotHistory(account string, limit int) ([]types.HealthSnapshot, error) {
	return e.cfg.Store.ListSnapshots(account, limit)
}

// Params returns the active engine parameters.
func (e *Engine) Params() types.EngineParameters {
	return e.cfg.Params
}

// planLoop gathers the live asset readings a plan needs and builds it.
func (e *Engine) planLoop(ctx context.Context, req OpenLoopRequest) (*types.LoopPlan, types.Asset, types.Asset, error) {
	adapter, err := e.cfg.Registry.Get(req.Protocol)
	if err != nil {
		return nil, types.Asset{}, types.Asset{}, err
	}

	supplyAsset, err := adapter.Asset(ctx, req.SupplyAsset)
	if err != nil {
		return nil, types.Asset{}, types.Asset{}, fmt.Errorf("failed to read supply asset %s: %w", req.SupplyAsset, err)
	}
	debtAsset, err := adapter.Asset(ctx, req.DebtAsset)
	if err != nil {
		return nil, types.Asset{}, types.Asset{}, fmt.Errorf("failed to read debt asset %s: %w", req.DebtAsset, err)
	}

	supplyAsset.PriceUSD = e.cfg.Oracle.GetPrice(supplyAsset.Symbol)
	debtAsset.PriceUSD = e.cfg.Oracle.GetPrice(debtAsset.Symbol)

	inputAsset := req.InputAsset
	if inputAsset == "" {
		inputAsset = req.SupplyAsset
	}

	collateralEnabled := true
	if adapter.RequiresCollateralEnable() {
		collateralEnabled, err = adapter.IsCollateralEnabled(ctx, req.Account, req.SupplyAsset)
		if err != nil {
			return nil, types.Asset{}, types.Asset{}, fmt.Errorf("failed to read collateral membership: %w", err)
		}
	}

	inputs := planner.Inputs{
		Protocol:                 req.Protocol,
		SupplyAsset:              supplyAsset,
		DebtAsset:                debtAsset,
		InputAsset:               inputAsset,
		InputPrice:               e.cfg.Oracle.GetPrice(inputAsset),
		Principal:                req.Principal,
		Leverage:                 req.Leverage,
		RequiresCollateralEnable: adapter.RequiresCollateralEnable(),
		CollateralEnabled:        collateralEnabled,
	}

	plan, err := planner.BuildLoopPlan(inputs, e.cfg.Params)
	if err != nil {
		return nil, types.Asset{}, types.Asset{}, err
	}
	return plan, supplyAsset, debtAsset, nil
}

// buildRecord converts a completed plan's terminal state into the persisted
// strategy record, including the protocol market handles.
func (e *Engine) buildRecord(ctx context.Context, adapter protocol.Adapter, req OpenLoopRequest, plan *types.LoopPlan) (types.StrategyRecord, error) {
	collateralRef, err := adapter.MarketRef(ctx, req.SupplyAsset)
	if err != nil {
		return types.StrategyRecord{}, fmt.Errorf("failed to read collateral market ref: %w", err)
	}
	debtRef, err := adapter.MarketRef(ctx, req.DebtAsset)
	if err != nil {
		return types.StrategyRecord{}, fmt.Errorf("failed to read debt market ref: %w", err)
	}

	collateralPrice := e.cfg.Oracle.GetPrice(req.SupplyAsset)
	debtPrice := e.cfg.Oracle.GetPrice(req.DebtAsset)
	if collateralPrice <= 0 || debtPrice <= 0 {
		return types.StrategyRecord{}, planner.ErrPriceUnavailable
	}

	return types.StrategyRecord{
		ID:                  plan.ID,
		Type:                types.StrategyLoop,
		Protocol:            req.Protocol,
		CollateralAsset:     req.SupplyAsset,
		DebtAsset:           req.DebtAsset,
		CollateralMarketRef: collateralRef,
		DebtMarketRef:       debtRef,
		CollateralAmount:    plan.TerminalCollateralUSD / collateralPrice,
		DebtAmount:          plan.TerminalDebtUSD / debtPrice,
		CreatedAt:           time.Now().UTC(),
	}, nil
}
