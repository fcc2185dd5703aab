/*

This file contains the asset type shared by the oracle, the adapters and the
planning engine.

*/

package types

// AssetSymbol is the canonical upper-case symbol of a token (e.g. "USDC").
type AssetSymbol string

// Asset describes a token as seen by one lending protocol. Prices and rates
// are re-fetched on every evaluation; a value of 0 for PriceUSD means the
// oracle could not price the asset.
type Asset struct {
	Symbol        AssetSymbol `json:"symbol"`
	Precision     int         `json:"precision"`       // on-chain decimal precision (e.g. 6 for USDC)
	PriceUSD      float64     `json:"price_usd"`       // 0 when unknown
	LoanToValue   float64     `json:"loan_to_value"`   // fraction in [0,1) when usable as collateral
	SupplyRateAPR float64     `json:"supply_rate_apr"` // fraction, e.g. 0.031 for 3.1%
	BorrowRateAPR float64     `json:"borrow_rate_apr"`
}
