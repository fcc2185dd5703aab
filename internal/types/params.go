/*

This file contains the tunable parameters for the leveraged position engine.
Different versions of these parameters can be persisted and activated without
a redeploy.

*/

package types

// EngineParameters holds all tunable thresholds and coefficients used by the
// planner, simulator, health calculator and monitor.
type EngineParameters struct {
	// --- Planning ---
	SafetyMargin     float64 `json:"safety_margin"`      // fraction of LTV headroom a cycle may borrow into (e.g. 0.95).
	PerCycleLeverage float64 `json:"per_cycle_leverage"` // leverage increment assumed per borrow/swap/deposit cycle (e.g. 0.6).
	DebtEpsilonUSD   float64 `json:"debt_epsilon_usd"`   // stop emitting cycles once the remaining debt gap is below this.
	MaxCycles        int     `json:"max_cycles"`         // hard upper bound on emitted cycles regardless of leverage request.

	// --- Simulation gating ---
	MinProjectedHealthFactor float64 `json:"min_projected_health_factor"` // plans projecting below this are rejected (exclusive bound).

	// --- Health classification ---
	DangerHealthFactor float64 `json:"danger_health_factor"`  // HF at or below this is danger (liquidatable boundary).
	SafeHealthFactor   float64 `json:"safe_health_factor"`    // HF above this is safe; between danger and this is warning.
	NoDebtHealthFactor float64 `json:"no_debt_health_factor"` // sentinel reported when an account has collateral but no debt.
	DustUSD            float64 `json:"dust_usd"`              // balances at or below this are treated as no position.

	// --- Monitoring / remediation ---
	AlertHealthFactor  float64 `json:"alert_health_factor"`  // monitor emits an alert when HF drops below this.
	TargetHealthFactor float64 `json:"target_health_factor"` // remediation suggestions aim to restore this HF.
}
