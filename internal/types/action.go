package types

import "encoding/json"

// ActionKind is the write operation an adapter asks the chain client to
// execute. Approve is inserted implicitly by the execution state machine.
type ActionKind string

const (
	ActionSupply           ActionKind = "SUPPLY"
	ActionBorrow           ActionKind = "BORROW"
	ActionRepay            ActionKind = "REPAY"
	ActionWithdraw         ActionKind = "WITHDRAW"
	ActionSwap             ActionKind = "SWAP"
	ActionEnableCollateral ActionKind = "ENABLE_COLLATERAL"
	ActionApprove          ActionKind = "APPROVE"
)

// Action is an opaque write operation built by a protocol adapter. The engine
// never inspects Payload; only the chain client and the wallet daemon behind
// it understand the wire format.
type Action struct {
	Protocol    ProtocolID      `json:"protocol"`
	Kind        ActionKind      `json:"kind"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
}

// TxResult is the chain client's report for one submitted action. A result is
// only produced once the client considers the transaction confirmed or
// failed; "no confirmation yet" never surfaces as a TxResult.
type TxResult struct {
	TxRef        string  `json:"tx_ref"`
	Confirmed    bool    `json:"confirmed"`
	GasFeeUSD    float64 `json:"gas_fee_usd"`
	ErrorMessage string  `json:"error_message,omitempty"`
}
