/*

This file contains the default engine parameters.

These values gate real borrow positions; each is chosen to keep the planned
position clear of the protocol's liquidation boundary under moderate price
moves.

*/

package config

import (
	"github.com/vmccharlie/opbutler/internal/types"
)

// DefaultEngineParameters provides the baseline thresholds for planning,
// simulation gating and health classification. Used when no active parameter
// set is found in the database during initialization.
var DefaultEngineParameters = types.EngineParameters{
	// --- Planning ---
	SafetyMargin: 0.95, // Borrow at most 95% of the LTV-allowed maximum per cycle.
	// Leaves a 5% buffer so a single adverse price tick between planning and
	// execution cannot push the position past the protocol bound.

	PerCycleLeverage: 0.6, // Assumed leverage gained per borrow/swap/deposit cycle.
	// Drives the cycle-count heuristic: cycles = ceil((leverage-1)/0.6).

	DebtEpsilonUSD: 0.01, // Stop emitting cycles once the remaining gap is below one cent.

	MaxCycles: 10, // Hard cap; low-LTV markets converge well before this.

	// --- Simulation gating ---
	MinProjectedHealthFactor: 1.1, // Plans projecting HF below 1.1 are rejected outright.

	// --- Health classification ---
	DangerHealthFactor: 1.0, // At or below 1.0 the position is liquidatable.
	SafeHealthFactor:   1.3, // Above 1.3 is safe; (1.0, 1.3] is warning.
	NoDebtHealthFactor: 999, // Sentinel for collateral-only accounts.
	DustUSD:            0.01,

	// --- Monitoring / remediation ---
	AlertHealthFactor:  1.5, // Default per-account alert threshold.
	TargetHealthFactor: 1.5, // Remediation suggestions restore HF to this.
}
