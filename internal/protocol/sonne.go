/*

This file contains the market-style adapter, Compound lineage. There is no
aggregate account call: the adapter reports per-market supply/borrow balances
in native precision plus the comptroller's account liquidity/shortfall, and
the health calculator derives USD totals from oracle prices. Collateral must
be explicitly entered per market.

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
	sonneMarketPath     = "sonne/market"
	sonneSnapshotPath   = "sonne/account-snapshot"
	sonneLiquidityPath  = "sonne/account-liquidity"
	sonneMembershipPath = "sonne/membership"
	sonneAllowancePath  = "sonne/allowance"
)

// MarketAdapter integrates a Compound-style lending protocol.
type MarketAdapter struct {
	query  chain.QueryClient
	logger zerolog.Logger
}

// NewMarketAdapter builds the market-style adapter over a query client.
func NewMarketAdapter(query chain.QueryClient) (*MarketAdapter, error) {
	if query == nil {
		return nil, errors.New("query client cannot be nil")
	}
	return &MarketAdapter{
		query:  query,
		logger: logger.GetForComponent("sonne_adapter"),
	}, nil
}

// Protocol implements Adapter.
func (m *MarketAdapter) Protocol() types.ProtocolID {
	return types.ProtocolSonne
}

// --- Wire shapes (adapter-owned) ---

type sonneMarketRequest struct {
	Symbol string `json:"symbol"`
}

type sonneMarketResponse struct {
	Symbol             string  `json:"symbol"`
	CTokenAddress      string  `json:"c_token_address"`
	UnderlyingDecimals int     `json:"underlying_decimals"`
	CollateralFactor   float64 `json:"collateral_factor"` // fraction in [0,1)
	SupplyRateAPR      float64 `json:"supply_rate_apr"`
	BorrowRateAPR      float64 `json:"borrow_rate_apr"`
	CashUSDWad         string  `json:"cash_usd_wad"` // borrowable liquidity in USD, wad scale
}

type sonneAccountRequest struct {
	Account string `json:"account"`
}

type sonneSnapshotResponse struct {
	Markets []sonneMarketBalance `json:"markets"`
}

type sonneMarketBalance struct {
	Symbol        string `json:"symbol"`
	SupplyBalance string `json:"supply_balance"` // underlying, native precision
	BorrowBalance string `json:"borrow_balance"`
	Decimals      int    `json:"decimals"`
}

type sonneLiquidityResponse struct {
	LiquidityUSDWad string `json:"liquidity_usd_wad"`
	ShortfallUSDWad string `json:"shortfall_usd_wad"`
}

type sonneMembershipRequest struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
}

type sonneMembershipResponse struct {
	Entered bool `json:"entered"`
}

type sonneAllowanceRequest struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Spender string `json:"spender"` // "market" or "router"
}

type sonneAllowanceResponse struct {
	Allowance string `json:"allowance"`
}

// Asset implements Adapter.
func (m *MarketAdapter) Asset(ctx context.Context, symbol types.AssetSymbol) (types.Asset, error) {
	resp, err := m.market(ctx, symbol)
	if err != nil {
		return types.Asset{}, err
	}
	return types.Asset{
		Symbol:        symbol,
		Precision:     resp.UnderlyingDecimals,
		LoanToValue:   resp.CollateralFactor,
		SupplyRateAPR: resp.SupplyRateAPR,
		BorrowRateAPR: resp.BorrowRateAPR,
	}, nil
}

func (m *MarketAdapter) market(ctx context.Context, symbol types.AssetSymbol) (sonneMarketResponse, error) {
	var resp sonneMarketResponse
	if err := m.query.Query(ctx, sonneMarketPath, sonneMarketRequest{Symbol: string(symbol)}, &resp); err != nil {
		return sonneMarketResponse{}, errors.Join(ErrQueryFailed, err)
	}
	if resp.Symbol == "" {
		return sonneMarketResponse{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	if resp.CollateralFactor < 0 || resp.CollateralFactor >= 1 {
		return sonneMarketResponse{}, fmt.Errorf("%w: collateral factor %f for %s out of range", ErrInvalidReading, resp.CollateralFactor, symbol)
	}
	if math.IsNaN(resp.SupplyRateAPR) || math.IsInf(resp.SupplyRateAPR, 0) ||
		math.IsNaN(resp.BorrowRateAPR) || math.IsInf(resp.BorrowRateAPR, 0) {
		return sonneMarketResponse{}, fmt.Errorf("%w: rates for %s are not finite", ErrInvalidReading, symbol)
	}
	return resp, nil
}

// AccountData implements Adapter. Per-market balances are surfaced raw; the
// health calculator prices them.
func (m *MarketAdapter) AccountData(ctx context.Context, account string) (types.AccountData, error) {
	var snapshot sonneSnapshotResponse
	if err := m.query.Query(ctx, sonneSnapshotPath, sonneAccountRequest{Account: account}, &snapshot); err != nil {
		return types.AccountData{}, errors.Join(ErrQueryFailed, err)
	}

	var liquidity sonneLiquidityResponse
	if err := m.query.Query(ctx, sonneLiquidityPath, sonneAccountRequest{Account: account}, &liquidity); err != nil {
		return types.AccountData{}, errors.Join(ErrQueryFailed, err)
	}

	liquidityUSD, err := parseWadString(liquidity.LiquidityUSDWad, "account liquidity")
	if err != nil {
		return types.AccountData{}, err
	}
	shortfallUSD, err := parseWadString(liquidity.ShortfallUSDWad, "account shortfall")
	if err != nil {
		return types.AccountData{}, err
	}

	markets := make([]types.MarketBalance, 0, len(snapshot.Markets))
	for _, mb := range snapshot.Markets {
		supply, ok := sdkmath.NewIntFromString(mb.SupplyBalance)
		if !ok {
			return types.AccountData{}, fmt.Errorf("%w: supply balance %q for %s", ErrInvalidReading, mb.SupplyBalance, mb.Symbol)
		}
		borrow, ok := sdkmath.NewIntFromString(mb.BorrowBalance)
		if !ok {
			return types.AccountData{}, fmt.Errorf("%w: borrow balance %q for %s", ErrInvalidReading, mb.BorrowBalance, mb.Symbol)
		}
		markets = append(markets, types.MarketBalance{
			Symbol:        types.AssetSymbol(mb.Symbol),
			SupplyBalance: supply,
			BorrowBalance: borrow,
			Precision:     mb.Decimals,
		})
	}

	m.logger.Debug().
		Str("account", account).
		Int("markets", len(markets)).
		Float64("liquidityUSD", liquidityUSD).
		Float64("shortfallUSD", shortfallUSD).
		Msg("Per-market account data fetched")

	return types.AccountData{
		Protocol:              types.ProtocolSonne,
		Aggregate:             false,
		AvailableLiquidityUSD: liquidityUSD,
		ShortfallUSD:          shortfallUSD,
		Markets:               markets,
	}, nil
}

// AvailableLiquidityUSD implements Adapter.
func (m *MarketAdapter) AvailableLiquidityUSD(ctx context.Context, symbol types.AssetSymbol) (float64, error) {
	resp, err := m.market(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return parseWadString(resp.CashUSDWad, "market cash")
}

// MarketRef implements Adapter.
func (m *MarketAdapter) MarketRef(ctx context.Context, symbol types.AssetSymbol) (string, error) {
	resp, err := m.market(ctx, symbol)
	if err != nil {
		return "", err
	}
	if resp.CTokenAddress == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return resp.CTokenAddress, nil
}

// RequiresCollateralEnable implements Adapter. Markets must be entered before
// supplied balances count toward borrowing capacity.
func (m *MarketAdapter) RequiresCollateralEnable() bool {
	return true
}

// IsCollateralEnabled implements Adapter.
func (m *MarketAdapter) IsCollateralEnabled(ctx context.Context, account string, symbol types.AssetSymbol) (bool, error) {
	var resp sonneMembershipResponse
	req := sonneMembershipRequest{Account: account, Symbol: string(symbol)}
	if err := m.query.Query(ctx, sonneMembershipPath, req, &resp); err != nil {
		return false, errors.Join(ErrQueryFailed, err)
	}
	return resp.Entered, nil
}

// Allowance implements Adapter.
func (m *MarketAdapter) Allowance(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind) (sdkmath.Int, error) {
	spender := "market"
	if kind == types.ActionSwap {
		spender = "router"
	}
	var resp sonneAllowanceResponse
	req := sonneAllowanceRequest{Account: account, Symbol: string(symbol), Spender: spender}
	if err := m.query.Query(ctx, sonneAllowancePath, req, &resp); err != nil {
		return sdkmath.ZeroInt(), errors.Join(ErrQueryFailed, err)
	}
	allowance, ok := sdkmath.NewIntFromString(resp.Allowance)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: allowance %q", ErrInvalidReading, resp.Allowance)
	}
	return allowance, nil
}

// --- Write operations ---

type sonneWritePayload struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	To      string `json:"to_symbol,omitempty"`
	Amount  string `json:"amount,omitempty"` // native precision
	Spender string `json:"spender,omitempty"`
}

func (m *MarketAdapter) Supply(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return m.writeAction(ctx, types.ActionSupply, account, symbol, "", amount, "")
}

func (m *MarketAdapter) Borrow(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return m.writeAction(ctx, types.ActionBorrow, account, symbol, "", amount, "")
}

func (m *MarketAdapter) Repay(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return m.writeAction(ctx, types.ActionRepay, account, symbol, "", amount, "")
}

func (m *MarketAdapter) Withdraw(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error) {
	return m.writeAction(ctx, types.ActionWithdraw, account, symbol, "", amount, "")
}

func (m *MarketAdapter) Swap(ctx context.Context, account string, from, to types.AssetSymbol, amount float64) (types.Action, error) {
	return m.writeAction(ctx, types.ActionSwap, account, from, to, amount, "")
}

// EnableCollateral implements Adapter; enters the market so the supplied
// balance counts as collateral.
func (m *MarketAdapter) EnableCollateral(ctx context.Context, account string, symbol types.AssetSymbol) (types.Action, error) {
	payload, err := json.Marshal(sonneWritePayload{Account: account, Symbol: string(symbol)})
	if err != nil {
		return types.Action{}, fmt.Errorf("failed to marshal enter-market payload: %w", err)
	}
	return types.Action{
		Protocol:    types.ProtocolSonne,
		Kind:        types.ActionEnableCollateral,
		Description: fmt.Sprintf("ENABLE_COLLATERAL %s", symbol),
		Payload:     payload,
	}, nil
}

func (m *MarketAdapter) Approve(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind, amount float64) (types.Action, error) {
	spender := "market"
	if kind == types.ActionSwap {
		spender = "router"
	}
	return m.writeAction(ctx, types.ActionApprove, account, symbol, "", amount, spender)
}

func (m *MarketAdapter) writeAction(ctx context.Context, kind types.ActionKind, account string, symbol, to types.AssetSymbol, amount float64, spender string) (types.Action, error) {
	asset, err := m.Asset(ctx, symbol)
	if err != nil {
		return types.Action{}, err
	}
	raw, err := utils.Float64ToSDKInt(amount, asset.Precision)
	if err != nil {
		return types.Action{}, fmt.Errorf("failed to convert %s amount: %w", kind, err)
	}

	payload, err := json.Marshal(sonneWritePayload{
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
		Protocol:    types.ProtocolSonne,
		Kind:        kind,
		Description: description,
		Payload:     payload,
	}, nil
}
