/*

This file contains the protocol adapter contract. One adapter exists per
lending protocol; each normalizes its protocol's collateral/debt/LTV/rate
shapes into the common AccountData form and exposes write operations as
opaque actions for the chain client. Adapter selection is by configuration,
never by string comparison inside the engine.

*/

package protocol

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/vmccharlie/opbutler/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrUnknownAsset    = errors.New("asset not listed on protocol")
	ErrQueryFailed     = errors.New("protocol query failed")
	ErrInvalidReading  = errors.New("protocol returned an invalid reading")
)

// Adapter is the single method set every lending protocol integration
// implements.
type Adapter interface {
	// Protocol returns the adapter's protocol identifier.
	Protocol() types.ProtocolID

	// Asset returns the protocol's view of one listed asset: precision,
	// loan-to-value and current rates. Price is not filled; the oracle owns
	// prices.
	Asset(ctx context.Context, symbol types.AssetSymbol) (types.Asset, error)

	// AccountData returns the normalized on-chain readings for one account.
	// Aggregate adapters fill USD totals and the health factor directly;
	// market-style adapters fill per-market balances plus liquidity and
	// shortfall.
	AccountData(ctx context.Context, account string) (types.AccountData, error)

	// AvailableLiquidityUSD returns the USD value borrowable from one market.
	AvailableLiquidityUSD(ctx context.Context, symbol types.AssetSymbol) (float64, error)

	// MarketRef returns the protocol's market handle for an asset (aToken or
	// cToken address), persisted with strategy records.
	MarketRef(ctx context.Context, symbol types.AssetSymbol) (string, error)

	// RequiresCollateralEnable reports whether supplying an asset needs an
	// explicit collateral-activation call before it counts toward LTV.
	RequiresCollateralEnable() bool

	// IsCollateralEnabled reports whether the account already activated the
	// asset as collateral. Always true for protocols that do not require
	// activation.
	IsCollateralEnabled(ctx context.Context, account string, symbol types.AssetSymbol) (bool, error)

	// Allowance returns the raw spend allowance the protocol (or its swap
	// router, for ActionSwap) currently holds for the account's asset.
	Allowance(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind) (sdkmath.Int, error)

	// Write operations. Amounts are asset-denominated; adapters convert to
	// native precision internally. The returned actions are opaque to the
	// engine and executed by the chain client.
	Supply(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error)
	Borrow(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error)
	Repay(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error)
	Withdraw(ctx context.Context, account string, symbol types.AssetSymbol, amount float64) (types.Action, error)
	Swap(ctx context.Context, account string, from, to types.AssetSymbol, amount float64) (types.Action, error)
	EnableCollateral(ctx context.Context, account string, symbol types.AssetSymbol) (types.Action, error)
	Approve(ctx context.Context, account string, symbol types.AssetSymbol, kind types.ActionKind, amount float64) (types.Action, error)
}

// Registry holds the configured adapters keyed by protocol.
type Registry struct {
	adapters map[types.ProtocolID]Adapter
}

// NewRegistry builds a registry from the configured adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.ProtocolID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Protocol()] = a
	}
	return r
}

// Get returns the adapter for a protocol.
func (r *Registry) Get(protocol types.ProtocolID) (Adapter, error) {
	a, ok := r.adapters[protocol]
	if !ok {
		return nil, ErrUnknownProtocol
	}
	return a, nil
}

// All returns every configured adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
