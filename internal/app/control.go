package app

import (
	"context"
	"fmt"

	"dyzen-trader/internal/storage"
)

// SetKillSwitch flips the persisted kill switch. The coordinator picks the
// change up on its next iteration; the gate on its next restart cycle.
func (a *App) SetKillSwitch(ctx context.Context, active bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.UpdateSystemState(ctx, storage.SystemStatePatch{KillSwitch: &active}); err != nil {
		return err
	}

	event := "KILL_SWITCH_DISARMED"
	if active {
		event = "KILL_SWITCH_ARMED"
	}
	if err := store.LogEvent(ctx, event, fmt.Sprintf("kill_switch=%t set via cli", active)); err != nil {
		a.Logger.Warn().Err(err).Msg("audit append failed")
	}

	a.Logger.Info().Bool("kill_switch", active).Msg("kill switch updated")
	return nil
}

// SetStatus pauses or resumes the system by patching the singleton status.
func (a *App) SetStatus(ctx context.Context, status string) error {
	if status != storage.StatusRunning && status != storage.StatusPaused {
		return fmt.Errorf("status must be %s or %s", storage.StatusRunning, storage.StatusPaused)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.UpdateSystemState(ctx, storage.SystemStatePatch{Status: &status}); err != nil {
		return err
	}
	if err := store.LogEvent(ctx, "SYSTEM_STATUS_CHANGED", fmt.Sprintf("status=%s set via cli", status)); err != nil {
		a.Logger.Warn().Err(err).Msg("audit append failed")
	}

	a.Logger.Info().Str("status", status).Msg("system status updated")
	return nil
}
