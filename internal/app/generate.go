package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"dyzen-trader/internal/signalgen"
)

// Generate runs the signal source loop, depositing signals into the outbox
// consumed by the coordinator.
func (a *App) Generate(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	gen := signalgen.New(
		a.Config.Generator,
		a.newMarketData(),
		a.newOutbox(),
		store,
		a.Config.Trading.MaxOpenPositions,
		a.Logger,
	)

	err = gen.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("signal generator terminated with error")
		return err
	}

	a.Logger.Info().Msg("signal generator stopped")
	return nil
}
