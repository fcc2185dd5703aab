package health

import (
	"context"
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmccharlie/opbutler/internal/oracle"
	"github.com/vmccharlie/opbutler/internal/protocol"
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

// stubAdapter reports fixed account data for one protocol.
type stubAdapter struct {
	protocolID types.ProtocolID
	data       types.AccountData
	err        error
}

func (s *stubAdapter) Protocol() types.ProtocolID { return s.protocolID }

func (s *stubAdapter) AccountData(ctx context.Context, account string) (types.AccountData, error) {
	return s.data, s.err
}

func (s *stubAdapter) Asset(ctx context.Context, symbol types.AssetSymbol) (types.Asset, error) {
	return types.Asset{}, nil
}

func (s *stubAdapter) AvailableLiquidityUSD(ctx context.Context, symbol types.AssetSymbol) (float64, error) {
	return 0, nil
}

func (s *stubAdapter) MarketRef(ctx context.Context, symbol types.AssetSymbol) (string, error) {
	return "", nil
}

func (s *stubAdapter) RequiresCollateralEnable() bool { return false }

func (s *stubAdapter) IsCollateralEnabled(ctx context.Context, account string, symbol types.AssetSymbol) (bool, error) {
	return true, nil
}

func (s *stubAdapter) Allowance(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind) (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}

func (s *stubAdapter) Supply(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) Borrow(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) Repay(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) Withdraw(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) Swap(ctx context.Context, account string, from, to types.AssetSymbol, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) EnableCollateral(ctx context.Context, account string, symbol types.AssetSymbol) (types.Action, error) {
	return types.Action{}, nil
}

func (s *stubAdapter) Approve(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind, amount float64) (types.Action, error) {
	return types.Action{}, nil
}

func testOracle() oracle.PriceOracle {
	return oracle.NewFixed(map[types.AssetSymbol]float64{
		"ETH":  2000,
		"USDC": 1,
	})
}

func calculatorWith(t *testing.T, adapters ...protocol.Adapter) *Calculator {
	t.Helper()
	calc, err := NewCalculator(protocol.NewRegistry(adapters...), testOracle(), testParams())
	require.NoError(t, err)
	return calc
}

func aggregateData(collateralUSD, debtUSD, healthFactor float64) types.AccountData {
	return types.AccountData{
		Protocol:      types.ProtocolAave,
		Aggregate:     true,
		CollateralUSD: collateralUSD,
		DebtUSD:       debtUSD,
		HealthFactor:  healthFactor,
	}
}

func TestComputeHealth_AggregatePassthrough(t *testing.T) {
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolAave,
		data:       aggregateData(1500, 500, 2.4),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	pos := positions[types.ProtocolAave]
	assert.InDelta(t, 1500.0, pos.SupplyUSD, 1e-9)
	assert.InDelta(t, 500.0, pos.DebtUSD, 1e-9)
	assert.InDelta(t, 2.4, pos.HealthFactor, 1e-9)
	assert.Equal(t, types.StatusSafe, pos.Status)
	assert.True(t, pos.HasPositions)
}

func TestComputeHealth_NoDebtSentinel(t *testing.T) {
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolAave,
		data:       aggregateData(1000, 0, 0),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	pos := positions[types.ProtocolAave]
	assert.InDelta(t, 999.0, pos.HealthFactor, 1e-9)
	assert.Equal(t, types.StatusSafe, pos.Status)
}

func TestComputeHealth_StatusClassification(t *testing.T) {
	cases := []struct {
		name         string
		healthFactor float64
		want         types.HealthStatus
	}{
		{"liquidatable", 0.95, types.StatusDanger},
		{"at boundary", 1.0, types.StatusDanger},
		{"warning band", 1.2, types.StatusWarning},
		{"warning upper edge", 1.3, types.StatusWarning},
		{"safe", 1.31, types.StatusSafe},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc := calculatorWith(t, &stubAdapter{
				protocolID: types.ProtocolAave,
				data:       aggregateData(1500, 1000, tc.healthFactor),
			})
			positions, err := calc.ComputeHealth(context.Background(), "acct")
			require.NoError(t, err)
			assert.Equal(t, tc.want, positions[types.ProtocolAave].Status)
		})
	}
}

func TestComputeHealth_InactiveWhenDust(t *testing.T) {
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolAave,
		data:       aggregateData(0.001, 0, 0),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	pos := positions[types.ProtocolAave]
	assert.Equal(t, types.StatusInactive, pos.Status)
	assert.False(t, pos.HasPositions)
}

func marketData(liquidityUSD, shortfallUSD float64, markets ...types.MarketBalance) types.AccountData {
	return types.AccountData{
		Protocol:              types.ProtocolSonne,
		Aggregate:             false,
		AvailableLiquidityUSD: liquidityUSD,
		ShortfallUSD:          shortfallUSD,
		Markets:               markets,
	}
}

func TestComputeHealth_MarketDerivedHealthFactor(t *testing.T) {
	// 1 ETH supplied at 2000 USD, 1000 USDC borrowed, 500 USD liquidity left:
	// HF = (500 + 1000) / 1000 = 1.5.
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolSonne,
		data: marketData(500, 0,
			types.MarketBalance{Symbol: "ETH", SupplyBalance: sdkmath.NewInt(1_000_000_000_000_000_000), BorrowBalance: sdkmath.ZeroInt(), Precision: 18},
			types.MarketBalance{Symbol: "USDC", SupplyBalance: sdkmath.ZeroInt(), BorrowBalance: sdkmath.NewInt(1_000_000_000), Precision: 6},
		),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	pos := positions[types.ProtocolSonne]
	assert.InDelta(t, 2000.0, pos.SupplyUSD, 1e-6)
	assert.InDelta(t, 1000.0, pos.DebtUSD, 1e-6)
	assert.InDelta(t, 1.5, pos.HealthFactor, 1e-9)
	assert.Equal(t, types.StatusSafe, pos.Status)
}

func TestComputeHealth_ShortfallFallback(t *testing.T) {
	// 200 USD shortfall on 1000 USD of debt: HF = (1000 - 200) / 1000 = 0.8.
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolSonne,
		data: marketData(0, 200,
			types.MarketBalance{Symbol: "USDC", SupplyBalance: sdkmath.ZeroInt(), BorrowBalance: sdkmath.NewInt(1_000_000_000), Precision: 6},
		),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	pos := positions[types.ProtocolSonne]
	assert.InDelta(t, 0.8, pos.HealthFactor, 1e-9)
	assert.Equal(t, types.StatusDanger, pos.Status)
}

func TestComputeHealth_UnknownPriceExcludesMarket(t *testing.T) {
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolSonne,
		data: marketData(500, 0,
			types.MarketBalance{Symbol: "ETH", SupplyBalance: sdkmath.NewInt(1_000_000_000_000_000_000), BorrowBalance: sdkmath.ZeroInt(), Precision: 18},
			types.MarketBalance{Symbol: "MYSTERY", SupplyBalance: sdkmath.NewInt(42), BorrowBalance: sdkmath.ZeroInt(), Precision: 0},
		),
	})

	positions, err := calc.ComputeHealth(context.Background(), "acct")
	require.NoError(t, err)

	// The unpriced market adds nothing to the totals.
	assert.InDelta(t, 2000.0, positions[types.ProtocolSonne].SupplyUSD, 1e-6)
}

func TestComputeHealth_AdapterFailureFailsWholeCall(t *testing.T) {
	calc := calculatorWith(t,
		&stubAdapter{protocolID: types.ProtocolAave, data: aggregateData(1000, 0, 0)},
		&stubAdapter{protocolID: types.ProtocolSonne, err: assert.AnError},
	)

	_, err := calc.ComputeHealth(context.Background(), "acct")
	require.Error(t, err)
}

func TestSnapshot_IncludesScore(t *testing.T) {
	calc := calculatorWith(t, &stubAdapter{
		protocolID: types.ProtocolAave,
		data:       aggregateData(1500, 500, 2.4),
	})

	snapshot, err := calc.Snapshot(context.Background(), "acct")
	require.NoError(t, err)

	assert.Equal(t, "acct", snapshot.Account)
	assert.False(t, snapshot.Timestamp.IsZero())
	// min(2, 2.4) * 5 = 10.
	assert.InDelta(t, 10.0, snapshot.Score, 1e-9)
}

func TestScore(t *testing.T) {
	positions := map[types.ProtocolID]types.ProtocolPosition{
		types.ProtocolAave:  {HealthFactor: 1.2, HasPositions: true},
		types.ProtocolSonne: {HealthFactor: 5.0, HasPositions: true}, // clamps to 2
	}
	// avg(1.2, 2.0) * 5 = 8.
	assert.InDelta(t, 8.0, Score(positions), 1e-9)

	// Inactive protocols do not drag the average down.
	positions[types.ProtocolSonne] = types.ProtocolPosition{HealthFactor: 0, HasPositions: false}
	assert.InDelta(t, 6.0, Score(positions), 1e-9)

	assert.Zero(t, Score(nil))
	assert.Zero(t, Score(map[types.ProtocolID]types.ProtocolPosition{
		types.ProtocolAave: {HasPositions: false},
	}))
}

func TestEffectiveLTV(t *testing.T) {
	// HF 1.142857 on 1000/700 implies LTV 0.8.
	pos := types.ProtocolPosition{SupplyUSD: 1000, DebtUSD: 700, HealthFactor: 1000 * 0.8 / 700}
	assert.InDelta(t, 0.8, EffectiveLTV(pos), 1e-9)

	assert.Zero(t, EffectiveLTV(types.ProtocolPosition{SupplyUSD: 0, DebtUSD: 700}))
	assert.Zero(t, EffectiveLTV(types.ProtocolPosition{SupplyUSD: 1000, DebtUSD: 0}))

	// Derived LTV above 1 is clamped rather than trusted.
	pos = types.ProtocolPosition{SupplyUSD: 100, DebtUSD: 100, HealthFactor: 2}
	assert.InDelta(t, 0.99, EffectiveLTV(pos), 1e-9)
}

func TestSuggestRemediation(t *testing.T) {
	// Restore HF 1.5 on collateral 1000, debt 700, LTV 0.8:
	// repay = 700 - (1000*0.8)/1.5 = 166.67; add = (1.5*700)/0.8 - 1000 = 312.5.
	remediation := SuggestRemediation(1000, 700, 0.8, 1.5)
	assert.InDelta(t, 700-800.0/1.5, remediation.RepayAmountUSD, 1e-6)
	assert.InDelta(t, 312.5, remediation.AddCollateralAmountUSD, 1e-6)

	// Already healthy: nothing to do.
	remediation = SuggestRemediation(10000, 100, 0.8, 1.5)
	assert.Zero(t, remediation.RepayAmountUSD)
	assert.Zero(t, remediation.AddCollateralAmountUSD)

	// Degenerate inputs yield no suggestion.
	assert.Equal(t, types.Remediation{}, SuggestRemediation(1000, 700, 0, 1.5))
	assert.Equal(t, types.Remediation{}, SuggestRemediation(1000, 700, 0.8, 0))
}

func TestComputeHealth_HealthFactorMonotonicity(t *testing.T) {
	ctx := context.Background()

	// Pool-style adapters carry the wire health factor through, so the sweep
	// feeds readings shaped like collateral * liquidation LTV / debt.
	t.Run("aggregate rising debt lowers health factor", func(t *testing.T) {
		const collateralUSD = 2000.0
		prev := math.Inf(1)
		for _, debtUSD := range []float64{200, 400, 800, 1200, 1600} {
			calc := calculatorWith(t, &stubAdapter{
				protocolID: types.ProtocolAave,
				data:       aggregateData(collateralUSD, debtUSD, collateralUSD*0.8/debtUSD),
			})
			positions, err := calc.ComputeHealth(ctx, "acct")
			require.NoError(t, err)

			got := positions[types.ProtocolAave].HealthFactor
			assert.Less(t, got, prev, "debt %.0f USD", debtUSD)
			prev = got
		}
	})

	t.Run("aggregate rising collateral raises health factor", func(t *testing.T) {
		const debtUSD = 800.0
		prev := 0.0
		for _, collateralUSD := range []float64{1000, 1500, 2000, 3000} {
			calc := calculatorWith(t, &stubAdapter{
				protocolID: types.ProtocolAave,
				data:       aggregateData(collateralUSD, debtUSD, collateralUSD*0.8/debtUSD),
			})
			positions, err := calc.ComputeHealth(ctx, "acct")
			require.NoError(t, err)

			got := positions[types.ProtocolAave].HealthFactor
			assert.Greater(t, got, prev, "collateral %.0f USD", collateralUSD)
			prev = got
		}
	})

	// Market-style adapters derive the health factor from account liquidity,
	// so the sweep moves the balances and recomputes liquidity the way the
	// comptroller would: borrow capacity minus debt.
	t.Run("market rising debt lowers health factor", func(t *testing.T) {
		// 1 ETH at 2000 USD with collateral factor 0.75: capacity 1500 USD.
		const capacityUSD = 1500.0
		prev := math.Inf(1)
		for _, debtUSD := range []int64{100, 300, 600, 900, 1200} {
			calc := calculatorWith(t, &stubAdapter{
				protocolID: types.ProtocolSonne,
				data: marketData(capacityUSD-float64(debtUSD), 0,
					types.MarketBalance{Symbol: "ETH", SupplyBalance: sdkmath.NewIntWithDecimal(1, 18), BorrowBalance: sdkmath.ZeroInt(), Precision: 18},
					types.MarketBalance{Symbol: "USDC", SupplyBalance: sdkmath.ZeroInt(), BorrowBalance: sdkmath.NewIntWithDecimal(debtUSD, 6), Precision: 6},
				),
			})
			positions, err := calc.ComputeHealth(ctx, "acct")
			require.NoError(t, err)

			got := positions[types.ProtocolSonne].HealthFactor
			assert.Less(t, got, prev, "debt %d USD", debtUSD)
			prev = got
		}
	})

	t.Run("market rising collateral raises health factor", func(t *testing.T) {
		const debtUSD = 1000.0
		prev := 0.0
		for _, collateralETH := range []int64{1, 2, 3, 4} {
			capacityUSD := float64(collateralETH) * 2000 * 0.75
			calc := calculatorWith(t, &stubAdapter{
				protocolID: types.ProtocolSonne,
				data: marketData(capacityUSD-debtUSD, 0,
					types.MarketBalance{Symbol: "ETH", SupplyBalance: sdkmath.NewIntWithDecimal(collateralETH, 18), BorrowBalance: sdkmath.ZeroInt(), Precision: 18},
					types.MarketBalance{Symbol: "USDC", SupplyBalance: sdkmath.ZeroInt(), BorrowBalance: sdkmath.NewIntWithDecimal(1000, 6), Precision: 6},
				),
			})
			positions, err := calc.ComputeHealth(ctx, "acct")
			require.NoError(t, err)

			got := positions[types.ProtocolSonne].HealthFactor
			assert.Greater(t, got, prev, "collateral %d ETH", collateralETH)
			prev = got
		}
	})
}

func TestNewCalculator_Validation(t *testing.T) {
	_, err := NewCalculator(nil, testOracle(), testParams())
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewCalculator(protocol.NewRegistry(), nil, testParams())
	require.ErrorIs(t, err, ErrNilDependency)
}
