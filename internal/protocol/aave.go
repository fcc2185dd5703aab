/*

This file contains the pool-style adapter. The protocol exposes a single
aggregate account-data call with wad-scaled (1e18) USD totals and an explicit
health factor, Aave v3 lineage. Supplied assets count as collateral without a
separate activation call.

*/

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/chain"
	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/types"
	"github.com/vmccharlie/opbutler/internal/utils"
)

const (
	aaveAssetPath     = "aave/v3/asset"
	aaveAccountPath   = "aave/v3/account"
	aaveLiquidityPath = "aave/v3/market-liquidity"
	aaveAllowancePath = "aave/v3/allowance"
)

// PoolAdapter integrates an Aave-style pooled lending protocol.
type PoolAdapter struct {
	query  chain.QueryClient
	logger zerolog.Logger
}

// NewPoolAdapter builds the pool-style adapter over a query client.
func NewPoolAdapter(query chain.QueryClient) (*PoolAdapter, error) {
	if query == nil {
		return nil, errors.New("query client cannot be nil")
	}
	return &PoolAdapter{
		query:  query,
		logger: logger.GetForComponent("aave_adapter"),
	}, nil
}

// Protocol implements Adapter.
func (a *PoolAdapter) Protocol() types.ProtocolID {
	return types.ProtocolAave
}

// --- Wire shapes (adapter-owned) ---

type aaveAssetRequest struct {
	Symbol string `json:"symbol"`
}

type aaveAssetResponse struct {
	Symbol        string  `json:"symbol"`
	Decimals      int     `json:"decimals"`
	ATokenAddress string  `json:"a_token_address"`
	LTVBps        int     `json:"ltv_bps"` // loan-to-value in basis points
	SupplyRateAPR float64 `json:"supply_rate_apr"`
	BorrowRateAPR float64 `json:"borrow_rate_apr"`
	LiquidityWad  string  `json:"available_liquidity_usd_wad"`
}

type aaveAccountRequest struct {
	Account string `json:"account"`
}

type aaveAccountResponse struct {
	TotalCollateralUSDWad string `json:"total_collateral_usd_wad"`
	TotalDebtUSDWad       string `json:"total_debt_usd_wad"`
	HealthFactorWad       string `json:"health_factor_wad"`
}

type aaveAllowanceRequest struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Spender string `json:"spender"` // "pool" or "router"
}

type aaveAllowanceResponse struct {
	Allowance string `json:"allowance"`
}

// Asset implements Adapter.
func (a *PoolAdapter) Asset(ctx context.Context, symbol types.AssetSymbol) (types.Asset, error) {
	var resp aaveAssetResponse
	if err := a.query.Query(ctx, aaveAssetPath, aaveAssetRequest{Symbol: string(symbol)}, &resp); err != nil {
		return types.Asset{}, errors.Join(ErrQueryFailed, err)
	}
	if resp.Symbol == "" {
		return types.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	ltv := float64(resp.LTVBps) / 10000.0
	if ltv < 0 || ltv >= 1 {
		return types.Asset{}, fmt.Errorf("%w: ltv %f for %s out of range", ErrInvalidReading, ltv, symbol)
	}
	if math.IsNaN(resp.SupplyRateAPR) || math.IsInf(resp.SupplyRateAPR, 0) ||
		math.IsNaN(resp.BorrowRateAPR) || math.IsInf(resp.BorrowRateAPR, 0) {
		return types.Asset{}, fmt.Errorf("%w: rates for %s are not finite", ErrInvalidReading, symbol)
	}
	return types.Asset{
		Symbol:        symbol,
		Precision:     resp.Decimals,
		LoanToValue:   ltv,
		SupplyRateAPR: resp.SupplyRateAPR,
		BorrowRateAPR: resp.BorrowRateAPR,
	}, nil
}

// AccountData implements Adapter. Totals and the health factor are read
// directly from the aggregate call and converted from wad scale.
func (a *PoolAdapter) AccountData(ctx context.Context, account string) (types.AccountData, error) {
	var resp aaveAccountResponse
	if err := a.query.Query(ctx, aaveAccountPath, aaveAccountRequest{Account: account}, &resp); err != nil {
		return types.AccountData{}, errors.Join(ErrQueryFailed, err)
	}

	collateralUSD, err := parseWadString(resp.TotalCollateralUSDWad, "total collateral")
	if err != nil {
		return types.AccountData{}, err
	}
	debtUSD, err := parseWadString(resp.TotalDebtUSDWad, "total debt")
	if err != nil {
		return types.AccountData{}, err
	}
	healthFactor, err := parseWadString(resp.HealthFactorWad, "health factor")
	if err != nil {
		return types.AccountData{}, err
	}

	a.logger.Debug().
		Str("account", account).
		Float64("collateralUSD", collateralUSD).
		Float64("debtUSD", debtUSD).
		Float64("healthFactor", healthFactor).
		Msg("Aggregate account data fetched")

	return types.AccountData{
		Protocol:      types.ProtocolAave,
		Aggregate:     true,
		CollateralUSD: collateralUSD,
		DebtUSD:       debtUSD,
		HealthFactor:  healthFactor,
	}, nil
}

// AvailableLiquidityUSD implements Adapter.
func (a *PoolAdapter) AvailableLiquidityUSD(ctx context.Context, symbol types.AssetSymbol) (float64, error) {
	var resp aaveAssetResponse
	if err := a.query.Query(ctx, aaveLiquidityPath, aaveAssetRequest{Symbol: string(symbol)}, &resp); err != nil {
		return 0, errors.Join(ErrQueryFailed, err)
	}
	return parseWadString(resp.LiquidityWad, "available liquidity")
}

// MarketRef implements Adapter.
func (a *PoolAdapter) MarketRef(ctx context.Context, symbol types.AssetSymbol) (string, error) {
	var resp aaveAssetResponse
	if err := a.query.Query(ctx, aaveAssetPath, aaveAssetRequest{Symbol: string(symbol)}, &resp); err != nil {
		return "", errors.Join(ErrQueryFailed, err)
	}
	if resp.ATokenAddress == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return resp.ATokenAddress, nil
}

// RequiresCollateralEnable implements Adapter. Supplied assets count as
// collateral immediately on this family.
func (a *PoolAdapter) RequiresCollateralEnable() bool {
	return false
}

// IsCollateralEnabled implements Adapter.
func (a *PoolAdapter) IsCollateralEnabled(ctx context.Context, account string, symbol types.AssetSymbol) (bool, error) {
	return true, nil
}

// Allowance implements Adapter.
func (a *PoolAdapter) Allowance(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind) (sdkmath.Int, error) {
	spender := "pool"
	if kind == types.ActionSwap {
		spender = "router"
	}
	var resp aaveAllowanceResponse
	req := aaveAllowanceRequest{Account: account, Symbol: string(symbol), Spender: spender}
	if err := a.query.Query(ctx, aaveAllowancePath, req, &resp); err != nil {
		return sdkmath.ZeroInt(), errors.Join(ErrQueryFailed, err)
	}
	allowance, ok := sdkmath.NewIntFromString(resp.Allowance)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: allowance %q", ErrInvalidReading, resp.Allowance)
	}
	return allowance, nil
}

// --- Write operations ---

type aaveWritePayload struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	To      string `json:"to_symbol,omitempty"`
	Amount  string `json:"amount"` // native precision
	Spender string `json:"spender,omitempty"`
}

func (a *PoolAdapter) Supply(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return a.writeAction(ctx, types.ActionSupply, account, symbol, "", amount, "")
}

func (a *PoolAdapter) Borrow(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return a.writeAction(ctx, types.ActionBorrow, account, symbol, "", amount, "")
}

func (a *PoolAdapter) Repay(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return a.writeAction(ctx, types.ActionRepay, account, symbol, "", amount, "")
}

func (a *PoolAdapter) Withdraw(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return a.writeAction(ctx, types.ActionWithdraw, account, symbol, "", amount, "")
}

func (a *PoolAdapter) Swap(ctx context.Context, account string, from, to types.AssetSymbol, amount float64) (types.Action, error) {
	return a.writeAction(ctx, types.ActionSwap, account, from, to, amount, "")
}

// EnableCollateral implements Adapter; never needed on this family.
func (a *PoolAdapter) EnableCollateral(ctx context.Context, account string, symbol types.AssetSymbol) (types.Action, error) {
	return types.Action{}, errors.New("pool-style protocol does not use collateral activation")
}

func (a *PoolAdapter) Approve(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind, amount float64) (types.Action, error) {
	spender := "pool"
	if kind == types.ActionSwap {
		spender = "router"
	}
	return a.writeAction(ctx, types.ActionApprove, account, symbol, "", amount, spender)
}

func (a *PoolAdapter) writeAction(ctx context.Context, kind types.ActionKind, account string, symbol, to types.AssetSymbol, amount float64, spender string) (types.Action, error) {
	asset, err := a.Asset(ctx, symbol)
	if err != nil {
		return types.Action{}, err
	}
	raw, err := utils.Float64ToSDKInt(amount, asset.Precision)
	if err != nil {
		return types.Action{}, fmt.Errorf("failed to convert %s amount: %w", kind, err)
	}

	payload, err := json.Marshal(aaveWritePayload{
		Account: account,
		Symbol:  string(symbol),
		To:      string(to),
		Amount:  raw.String(),
		Spender: spender,
	})
	if err != nil {
		return types.Action{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	description := fmt.Sprintf("%s %.6f %s", kind, amount, symbol)
	if to != "" {
		description = fmt.Sprintf("%s %.6f %s -> %s", kind, amount, symbol, to)
	}

	return types.Action{
		Protocol:    types.ProtocolAave,
		Kind:        kind,
		Description: description,
		Payload:     payload,
	}, nil
}

// parseWadString converts a wad-scaled decimal string into float64.
func parseWadString(raw, field string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: empty %s", ErrInvalidReading, field)
	}
	value, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidReading, field, raw)
	}
	out, err := utils.WadToFloat64(value)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s: %w", field, err)
	}
	return out, nil
}
