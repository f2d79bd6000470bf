package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"dyzen-trader/internal/gate"
	"dyzen-trader/internal/oco"
	"dyzen-trader/internal/worker"
)

// Run executes the long-running coordinator loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	data := a.newMarketData()
	adapter, err := a.newAdapter(data)
	if err != nil {
		return err
	}

	manager := oco.NewManager(store, adapter, a.Logger)
	executor := worker.NewExecutor(store, adapter, manager, a.Config.Trading.MaxOpenPositions, a.Logger)

	w := worker.New(
		store,
		manager,
		a.newOutbox(),
		a.newChannel(),
		executor,
		a.newNotifier(),
		worker.Options{
			Mode:             a.mode(),
			KillSwitch:       a.Config.Trading.KillSwitch,
			MaxOpenPositions: a.Config.Trading.MaxOpenPositions,
			EquityBase:       a.equityBase(),
			Interval:         a.Config.Worker.Interval,
			StartupDelay:     a.Config.Worker.StartupDelay,
		},
		a.Logger,
	)

	err = w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("coordinator terminated with error")
		return err
	}

	a.Logger.Info().Msg("coordinator stopped")
	return nil
}

// Gate runs the one-shot admission check and, on success, the coordinator
// subprocess.
func (a *App) Gate(ctx context.Context) error {
	args := []string{"run"}
	if a.ConfigPath != "" {
		args = append(args, "--config", a.ConfigPath)
	}
	cmd, err := gate.WorkerSelfCommand(args...)
	if err != nil {
		return err
	}

	g := gate.New(gate.Options{
		PolicyPath:    a.Config.Policy.Path,
		Channel:       a.newChannel(),
		Mode:          a.mode(),
		WorkerCommand: cmd,
	}, a.Logger)

	return g.Run(ctx)
}
