/*

This file contains the types for account positions: the normalized per-protocol
readings produced by the adapters and the derived health view computed from
them.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// ProtocolID identifies one lending protocol integration.
type ProtocolID string

const (
	ProtocolAave  ProtocolID = "aave"  // pool-style: single aggregate account-data call
	ProtocolSonne ProtocolID = "sonne" // market-style: per-market balances, Compound lineage
)

// PositionKey is the composite key for per-asset balances. It replaces ad hoc
// "protocol-symbol" string keys.
type PositionKey struct {
	Protocol ProtocolID  `json:"protocol"`
	Symbol   AssetSymbol `json:"symbol"`
}

// MarketBalance is one market's raw supply/borrow balance for an account,
// reported by market-style adapters in the asset's native precision.
type MarketBalance struct {
	Symbol        AssetSymbol `json:"symbol"`
	SupplyBalance sdkmath.Int `json:"supply_balance"`
	BorrowBalance sdkmath.Int `json:"borrow_balance"`
	Precision     int         `json:"precision"`
}

// AccountData is the common shape every adapter normalizes its on-chain
// readings into. Aggregate adapters fill the USD totals and HealthFactor
// directly; market-style adapters fill Markets plus liquidity/shortfall and
// leave HealthFactor to the health calculator.
type AccountData struct {
	Protocol              ProtocolID      `json:"protocol"`
	Aggregate             bool            `json:"aggregate"`
	CollateralUSD         float64         `json:"collateral_usd"`
	DebtUSD               float64         `json:"debt_usd"`
	HealthFactor          float64         `json:"health_factor,omitempty"`
	AvailableLiquidityUSD float64         `json:"available_liquidity_usd,omitempty"`
	ShortfallUSD          float64         `json:"shortfall_usd,omitempty"`
	Markets               []MarketBalance `json:"markets,omitempty"`
}

// HealthStatus buckets a protocol position for dashboards and alerting.
type HealthStatus string

const (
	StatusSafe     HealthStatus = "safe"
	StatusWarning  HealthStatus = "warning"
	StatusDanger   HealthStatus = "danger"
	StatusInactive HealthStatus = "inactive"
)

// ProtocolPosition is the derived per-protocol health view for one account.
// Recomputed on every poll, never persisted as-is.
type ProtocolPosition struct {
	Protocol     ProtocolID   `json:"protocol"`
	SupplyUSD    float64      `json:"supply_usd"`
	DebtUSD      float64      `json:"debt_usd"`
	HealthFactor float64      `json:"health_factor"` // NoDebtHealthFactor sentinel when debt is zero
	Status       HealthStatus `json:"status"`
	HasPositions bool         `json:"has_positions"`
}

// HealthSnapshot aggregates all protocol positions for one account at one
// poll, plus the 0-10 dashboard score.
type HealthSnapshot struct {
	Account   string                          `json:"account"`
	Timestamp time.Time                       `json:"timestamp"`
	Positions map[ProtocolID]ProtocolPosition `json:"positions"`
	Score     float64                         `json:"score"`
}

// Remediation carries the suggested corrective amounts attached to an alert
// when an account's health factor drops below its configured threshold.
type Remediation struct {
	RepayAmountUSD         float64 `json:"repay_amount_usd"`
	AddCollateralAmountUSD float64 `json:"add_collateral_amount_usd"`
}
