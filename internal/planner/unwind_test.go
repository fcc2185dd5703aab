package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmccharlie/opbutler/internal/types"
)

func testRecord() types.StrategyRecord {
	return types.StrategyRecord{
		ID:               "strategy-1",
		Type:             types.StrategyLoop,
		Protocol:         types.ProtocolAave,
		CollateralAsset:  "ETH",
		DebtAsset:        "USDC",
		CollateralAmount: 15,
		DebtAmount:       500,
	}
}

func TestBuildUnwindPlan_RedeemsExactlyDebtCoverage(t *testing.T) {
	steps, err := BuildUnwindPlan(testRecord(), 100, 1)
	require.NoError(t, err)
	require.Len(t, steps, 4)

	assert.Equal(t, types.StepRedeem, steps[0].Kind)
	assert.Equal(t, types.StepSwap, steps[1].Kind)
	assert.Equal(t, types.StepRepay, steps[2].Kind)
	assert.Equal(t, types.StepWithdraw, steps[3].Kind)

	// 500 USD of debt at a 100 USD collateral price needs exactly 5 units.
	assert.InDelta(t, 5.0, steps[0].Amount, 1e-9)
	assert.InDelta(t, 500.0, steps[0].AmountUSD, 1e-9)

	assert.Equal(t, types.AssetSymbol("ETH"), steps[1].Asset)
	assert.Equal(t, types.AssetSymbol("USDC"), steps[1].ToAsset)
	assert.InDelta(t, 5.0, steps[1].Amount, 1e-9)

	assert.InDelta(t, 500.0, steps[2].Amount, 1e-9)

	assert.InDelta(t, 10.0, steps[3].Amount, 1e-9)
	assert.InDelta(t, 1000.0, steps[3].AmountUSD, 1e-9)
}

func TestBuildUnwindPlan_RedeemCappedAtCollateral(t *testing.T) {
	record := testRecord()
	record.CollateralAmount = 3 // worth 300 USD, less than the 500 USD debt

	steps, err := BuildUnwindPlan(record, 100, 1)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, steps[0].Amount, 1e-9)
	assert.Zero(t, steps[3].Amount)
}

func TestBuildUnwindPlan_NoDebt(t *testing.T) {
	record := testRecord()
	record.DebtAmount = 0

	steps, err := BuildUnwindPlan(record, 100, 1)
	require.NoError(t, err)

	assert.Zero(t, steps[0].Amount)
	assert.Zero(t, steps[2].Amount)
	assert.InDelta(t, record.CollateralAmount, steps[3].Amount, 1e-9)
}

func TestBuildUnwindPlan_InvalidInputs(t *testing.T) {
	record := testRecord()
	record.CollateralAmount = 0
	_, err := BuildUnwindPlan(record, 100, 1)
	require.ErrorIs(t, err, ErrInvalidRecord)

	record = testRecord()
	record.DebtAmount = -1
	_, err = BuildUnwindPlan(record, 100, 1)
	require.ErrorIs(t, err, ErrInvalidRecord)

	_, err = BuildUnwindPlan(testRecord(), 0, 1)
	require.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = BuildUnwindPlan(testRecord(), 100, 0)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}
