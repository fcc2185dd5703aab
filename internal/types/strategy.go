package types

import "time"

// StrategyType identifies the kind of persisted strategy.
type StrategyType string

const (
	StrategyLoop StrategyType = "loop"
)

// StrategyRecord is the persisted record of an open leveraged position.
// Created on successful initial loop execution, deleted on successful unwind.
// The state store is the only writer; last-write-wins per id.
type StrategyRecord struct {
	ID                  string       `json:"id"`
	Type                StrategyType `json:"type"`
	Protocol            ProtocolID   `json:"protocol"`
	CollateralAsset     AssetSymbol  `json:"collateral_asset"`
	DebtAsset           AssetSymbol  `json:"debt_asset"`
	CollateralMarketRef string       `json:"collateral_market_ref"` // protocol market handle (e.g. aToken / cToken address)
	DebtMarketRef       string       `json:"debt_market_ref"`
	CollateralAmount    float64      `json:"collateral_amount"` // asset denominated
	DebtAmount          float64      `json:"debt_amount"`
	CreatedAt           time.Time    `json:"created_at"`
}
