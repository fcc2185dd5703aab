/*

This file contains the health monitor loop: poll every monitored account on a
fixed interval, persist the snapshot, and emit alerts with remediation
suggestions when a position's health factor drops below the alert threshold.

*/

package engine

import (
	"context"
	"time"

	"github.com/vmccharlie/opbutler/internal/health"
	"github.com/vmccharlie/opbutler/internal/types"
)

// RunMonitor polls the configured accounts until the context is cancelled.
// Poll failures are logged and skipped; the loop never stops on its own.
func (e *Engine) RunMonitor(ctx context.Context) {
	e.logger.Info().
		Int("accounts", len(e.cfg.MonitoredAccounts)).
		Dur("interval", e.cfg.PollInterval).
		Msg("Health monitor started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			e.pollAll(ctx)
		}
	}
}

func (e *Engine) pollAll(ctx context.Context) {
	for _, account := range e.cfg.MonitoredAccounts {
		if err := e.pollAccount(ctx, account); err != nil {
			e.logger.Error().Err(err).Str("account", account).Msg("Health poll failed")
		}
	}
}

func (e *Engine) pollAccount(ctx context.Context, account string) error {
	snapshot, err := e.calculator.Snapshot(ctx, account)
	if err != nil {
		return err
	}

	if err := e.cfg.Store.SaveSnapshot(snapshot); err != nil {
		// Alerting still matters when history persistence is down.
		e.logger.Error().Err(err).Str("account", account).Msg("Failed to persist health snapshot")
	}

	for _, pos := range snapshot.Positions {
		e.maybeAlert(account, pos)
	}

	e.logger.Debug().
		Str("account", account).
		Float64("score", snapshot.Score).
		Int("protocols", len(snapshot.Positions)).
		Msg("Health snapshot taken")
	return nil
}

// maybeAlert logs a warning with remediation amounts when an active position
// sits below the alert threshold.
func (e *Engine) maybeAlert(account string, pos types.ProtocolPosition) {
	if !pos.HasPositions || pos.DebtUSD <= e.cfg.Params.DustUSD {
		return
	}
	if pos.HealthFactor >= e.cfg.Params.AlertHealthFactor {
		return
	}

	remediation := health.SuggestRemediation(
		pos.SupplyUSD, pos.DebtUSD,
		health.EffectiveLTV(pos),
		e.cfg.Params.TargetHealthFactor,
	)

	e.logger.Warn().
		Str("account", account).
		Str("protocol", string(pos.Protocol)).
		Str("status", string(pos.Status)).
		Float64("healthFactor", pos.HealthFactor).
		Float64("repayUSD", remediation.RepayAmountUSD).
		Float64("addCollateralUSD", remediation.AddCollateralAmountUSD).
		Msg("Position below alert threshold")
}
