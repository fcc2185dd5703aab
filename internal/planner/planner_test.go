package planner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmccharlie/opbutler/internal/types"
)

func testParams() types.EngineParameters {
	return types.EngineParameters{
		SafetyMargin:             0.95,
		PerCycleLeverage:         0.6,
		DebtEpsilonUSD:           0.01,
		MaxCycles:                10,
		MinProjectedHealthFactor: 1.1,
		DangerHealthFactor:       1.0,
		SafeHealthFactor:         1.3,
		NoDebtHealthFactor:       999,
		DustUSD:                  0.01,
		AlertHealthFactor:        1.5,
		TargetHealthFactor:       1.5,
	}
}

func baseInputs() Inputs {
	return Inputs{
		Protocol: types.ProtocolAave,
		SupplyAsset: types.Asset{
			Symbol:      "ETH",
			Precision:   18,
			PriceUSD:    2000,
			LoanToValue: 0.8,
		},
		DebtAsset: types.Asset{
			Symbol:    "USDC",
			Precision: 6,
			PriceUSD:  1,
		},
		InputAsset: "ETH",
		InputPrice: 2000,
		Principal:  0.5, // 1000 USD
		Leverage:   1.5,
	}
}

func stepKinds(steps []types.Step) []types.StepKind {
	kinds := make([]types.StepKind, 0, len(steps))
	for _, s := range steps {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func TestBuildLoopPlan_SingleCycleReachesTarget(t *testing.T) {
	in := baseInputs()
	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)
	require.NotNil(t, plan)

	// 1000 USD at 1.5x wants 500 USD of debt; the first cycle's LTV cap is
	// 1000 * 0.8 * 0.95 = 760 USD, so one cycle covers it.
	assert.Equal(t, 1, plan.Cycles)
	assert.InDelta(t, 1000.0, plan.PrincipalUSD, 1e-9)
	assert.InDelta(t, 500.0, plan.TargetDebtUSD, 1e-9)
	assert.InDelta(t, 500.0, plan.TerminalDebtUSD, 1e-9)
	assert.InDelta(t, 1500.0, plan.TerminalCollateralUSD, 1e-9)

	require.Equal(t, []types.StepKind{
		types.StepDeposit,
		types.StepBorrow,
		types.StepSwap,
		types.StepDeposit,
	}, stepKinds(plan.Steps))

	borrow := plan.Steps[1]
	assert.Equal(t, types.AssetSymbol("USDC"), borrow.Asset)
	assert.InDelta(t, 500.0, borrow.Amount, 1e-9)
	assert.InDelta(t, 500.0, borrow.AmountUSD, 1e-9)

	for _, step := range plan.Steps {
		assert.Equal(t, types.StepPending, step.Status)
		assert.NotEmpty(t, step.ID)
	}
}

func TestBuildLoopPlan_TwoCyclesWhenLTVBoundBinds(t *testing.T) {
	in := baseInputs()
	in.Leverage = 2.0 // wants 1000 USD of debt, first cycle caps at 760

	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Cycles)
	assert.InDelta(t, 1000.0, plan.TargetDebtUSD, 1e-9)
	assert.InDelta(t, 1000.0, plan.TerminalDebtUSD, 1e-6)
	assert.InDelta(t, 2000.0, plan.TerminalCollateralUSD, 1e-6)

	// First cycle borrows the full LTV headroom, second the remainder.
	var borrows []float64
	for _, s := range plan.Steps {
		if s.Kind == types.StepBorrow {
			borrows = append(borrows, s.AmountUSD)
		}
	}
	require.Len(t, borrows, 2)
	assert.InDelta(t, 760.0, borrows[0], 1e-9)
	assert.InDelta(t, 240.0, borrows[1], 1e-9)
}

func TestBuildLoopPlan_UnreachableTargetStopsAtMaxCycles(t *testing.T) {
	in := baseInputs()
	in.Leverage = 10
	in.SupplyAsset.LoanToValue = 0.5

	params := testParams()
	plan, err := BuildLoopPlan(in, params)
	require.NoError(t, err)

	// With LTV 0.5 the debt converges well below 9000 USD; the loop must hit
	// the cycle cap instead of emitting steps forever.
	assert.Equal(t, params.MaxCycles, plan.Cycles)
	assert.Less(t, plan.TerminalDebtUSD, plan.TargetDebtUSD)

	// Debt can never exceed the fixed point collateral * m / (1 - m).
	m := in.SupplyAsset.LoanToValue * params.SafetyMargin
	assert.Less(t, plan.TerminalDebtUSD, 1000.0*m/(1-m))
}

func TestBuildLoopPlan_EveryCycleRespectsLTVCap(t *testing.T) {
	in := baseInputs()
	in.Leverage = 3
	params := testParams()

	plan, err := BuildLoopPlan(in, params)
	require.NoError(t, err)

	collateral := plan.PrincipalUSD
	debt := 0.0
	for _, s := range plan.Steps {
		if s.Kind != types.StepBorrow {
			continue
		}
		debt += s.AmountUSD
		collateral += s.AmountUSD
		assert.LessOrEqual(t, debt, collateral*in.SupplyAsset.LoanToValue*params.SafetyMargin+1e-9)
	}
}

func TestBuildLoopPlan_LeverageOneEmitsNoCycles(t *testing.T) {
	in := baseInputs()
	in.Leverage = 1.0

	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)

	assert.Equal(t, 0, plan.Cycles)
	assert.Zero(t, plan.TerminalDebtUSD)
	require.Equal(t, []types.StepKind{types.StepDeposit}, stepKinds(plan.Steps))
}

func TestBuildLoopPlan_InputSwapPrefixed(t *testing.T) {
	in := baseInputs()
	in.InputAsset = "USDC"
	in.InputPrice = 1
	in.Principal = 1000

	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)

	require.NotEmpty(t, plan.Steps)
	first := plan.Steps[0]
	assert.Equal(t, types.StepSwap, first.Kind)
	assert.Equal(t, types.AssetSymbol("USDC"), first.Asset)
	assert.Equal(t, types.AssetSymbol("ETH"), first.ToAsset)
	assert.InDelta(t, 1000.0, first.AmountUSD, 1e-9)
}

func TestBuildLoopPlan_CollateralActivationStep(t *testing.T) {
	in := baseInputs()
	in.Protocol = types.ProtocolSonne
	in.RequiresCollateralEnable = true
	in.CollateralEnabled = false

	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)

	kinds := stepKinds(plan.Steps)
	require.GreaterOrEqual(t, len(kinds), 2)
	assert.Equal(t, types.StepDeposit, kinds[0])
	assert.Equal(t, types.StepEnableCollateral, kinds[1])

	// Already entered: no activation step.
	in.CollateralEnabled = true
	plan, err = BuildLoopPlan(in, testParams())
	require.NoError(t, err)
	assert.NotContains(t, stepKinds(plan.Steps), types.StepEnableCollateral)
}

func TestBuildLoopPlan_NonPositivePrincipalIsEmpty(t *testing.T) {
	in := baseInputs()
	in.Principal = 0

	plan, err := BuildLoopPlan(in, testParams())
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	in.Principal = -3
	plan, err = BuildLoopPlan(in, testParams())
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuildLoopPlan_PriceUnavailable(t *testing.T) {
	in := baseInputs()
	in.SupplyAsset.PriceUSD = 0

	_, err := BuildLoopPlan(in, testParams())
	require.ErrorIs(t, err, ErrPriceUnavailable)

	in = baseInputs()
	in.DebtAsset.PriceUSD = 0
	_, err = BuildLoopPlan(in, testParams())
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestBuildLoopPlan_InvalidInputs(t *testing.T) {
	in := baseInputs()
	in.Leverage = math.NaN()
	_, err := BuildLoopPlan(in, testParams())
	require.ErrorIs(t, err, ErrInvalidLeverage)

	in = baseInputs()
	in.SupplyAsset.LoanToValue = 1.0
	_, err = BuildLoopPlan(in, testParams())
	require.ErrorIs(t, err, ErrInvalidLTV)

	in = baseInputs()
	in.Principal = math.Inf(1)
	_, err = BuildLoopPlan(in, testParams())
	require.ErrorIs(t, err, ErrInvalidPrincipal)
}

func TestBuildLoopPlan_InvalidParams(t *testing.T) {
	in := baseInputs()

	params := testParams()
	params.SafetyMargin = 0
	_, err := BuildLoopPlan(in, params)
	require.ErrorIs(t, err, ErrInvalidParams)

	params = testParams()
	params.MaxCycles = 0
	_, err = BuildLoopPlan(in, params)
	require.ErrorIs(t, err, ErrInvalidParams)
}
