package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/alerting"
	"dyzen-trader/internal/outbox"
	"dyzen-trader/internal/scheduler"
	"dyzen-trader/internal/sharedstate"
	"dyzen-trader/internal/storage"
)

// Reconciler settles OCO state against the exchange.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// SignalQueue pops at most one pending signal per call.
type SignalQueue interface {
	Pop() (*outbox.Signal, error)
}

// SnapshotPublisher publishes the shared-state snapshot for the gate.
type SnapshotPublisher interface {
	Write(snap sharedstate.Snapshot) error
}

// Options wire the coordinator's collaborators and runtime settings.
type Options struct {
	Mode             string
	KillSwitch       bool
	MaxOpenPositions int
	EquityBase       decimal.Decimal
	Interval         time.Duration
	StartupDelay     time.Duration
}

// Worker is the execution coordinator: a single-threaded loop that checks
// the kill switch, reconciles OCO state, executes at most one signal, and
// republishes the shared-state snapshot each iteration.
type Worker struct {
	store     storage.TradingStore
	reconcile Reconciler
	queue     SignalQueue
	publisher SnapshotPublisher
	executor  *Executor
	notifier  alerting.Notifier
	opts      Options
	logger    zerolog.Logger

	// killNotified dedupes the operator alert across iterations: one
	// notification per activation, not one per loop pass.
	killNotified bool
}

// New constructs a Worker.
func New(store storage.TradingStore, rec Reconciler, queue SignalQueue, publisher SnapshotPublisher, executor *Executor, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Worker {
	return &Worker{
		store:     store,
		reconcile: rec,
		queue:     queue,
		publisher: publisher,
		executor:  executor,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "worker").Logger(),
	}
}

// Run starts the loop and blocks until ctx is cancelled. The process never
// exits because of a bad iteration; only cancellation ends the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logStartupState(ctx)

	status := storage.StatusRunning
	if err := w.store.UpdateSystemState(ctx, storage.SystemStatePatch{Status: &status}); err != nil {
		w.logger.Warn().Err(err).Msg("failed to touch system status at startup")
	}

	// Initial reconcile so exposure counts are fresh before the first signal.
	if err := w.reconcile.Reconcile(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("startup reconcile failed")
	}

	// Publish immediately so the gate sees a live worker.
	w.publish(ctx, sharedstate.StatusRunning, "")

	w.logger.Info().
		Str("mode", w.opts.Mode).
		Dur("interval", w.opts.Interval).
		Msg("execution coordinator starting")

	sched := scheduler.New(scheduler.Options{
		Interval:     w.opts.Interval,
		StartupDelay: w.opts.StartupDelay,
	}, w.logger)
	return sched.Run(ctx, w.iterate)
}

// iterate is one loop pass. Every failure path degrades to "log, continue";
// the recover guard keeps an unexpected panic from killing the process.
func (w *Worker) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("iteration panicked")
			w.audit(ctx, "WORKER_LOOP_ERROR", fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	if w.killSwitchActive(ctx) {
		w.logger.Warn().Msg("kill switch active; no signals will be popped or executed")
		w.audit(ctx, "WORKER_KILL_SWITCH_ACTIVE", "blocked before loop actions")
		if !w.killNotified {
			w.notify(ctx, alerting.Event{Kind: alerting.KindKillSwitch, Message: "kill switch active"})
			w.killNotified = true
		}
		w.publish(ctx, sharedstate.StatusKillSwitchActive, "")
		return nil
	}
	w.killNotified = false

	if err := w.reconcile.Reconcile(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("oco reconcile failed; continuing")
	}

	lastSignalID := ""
	if sig := w.safePop(ctx); sig != nil {
		lastSignalID = sig.SignalID
		w.logger.Info().Str("signal_id", sig.SignalID).Str("verdict", sig.FinalVerdict).Msg("signal received")
		w.executeSignal(ctx, sig)
	} else {
		w.logger.Debug().Msg("worker alive, outbox empty")
	}

	w.publish(ctx, sharedstate.StatusRunning, lastSignalID)
	return nil
}

// killSwitchActive combines the environment-level override with the
// persisted flag. A store read failure counts as active: when state cannot
// be confirmed, no new trading actions are taken.
func (w *Worker) killSwitchActive(ctx context.Context) bool {
	if w.opts.KillSwitch {
		return true
	}
	state, err := w.store.SystemState(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("cannot read system state; treating kill switch as active")
		return true
	}
	return state.KillSwitch
}

func (w *Worker) safePop(ctx context.Context) *outbox.Signal {
	sig, err := w.queue.Pop()
	if err != nil {
		w.logger.Error().Err(err).Msg("outbox pop failed")
		w.audit(ctx, "OUTBOX_POP_FAIL", fmt.Sprintf("err=%v", err))
		return nil
	}
	return sig
}

// publish writes the shared-state snapshot unconditionally every iteration.
// Failures are logged only; the snapshot is derived state.
func (w *Worker) publish(ctx context.Context, status, lastSignalID string) {
	openPositions := 0
	if count, err := w.store.OpenPositionCount(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("cannot count open positions for snapshot")
	} else {
		openPositions = count
	}

	snap := sharedstate.Snapshot{
		Mode:          w.opts.Mode,
		WorkerStatus:  status,
		OpenPositions: openPositions,
		DailyDrawdown: w.dailyDrawdown(ctx),
		LastSignalID:  lastSignalID,
		UpdatedAtUTC:  time.Now().UTC(),
	}
	if err := w.publisher.Write(snap); err != nil {
		w.logger.Warn().Err(err).Msg("shared state write failed")
	}
}

// dailyDrawdown expresses today's realized losses as a fraction of the
// configured equity base. Profitable or flat days report zero.
func (w *Worker) dailyDrawdown(ctx context.Context) float64 {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	pnl, err := w.store.DailyRealizedPnL(ctx, midnight)
	if err != nil {
		w.logger.Warn().Err(err).Msg("cannot compute daily pnl for snapshot")
		return 0
	}
	if pnl.Sign() >= 0 || w.opts.EquityBase.IsZero() {
		return 0
	}
	dd, _ := pnl.Neg().Div(w.opts.EquityBase).Float64()
	return dd
}

func (w *Worker) logStartupState(ctx context.Context) {
	state, err := w.store.SystemState(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("system state row missing or unreadable at startup")
		return
	}
	w.logger.Info().
		Str("status", state.Status).
		Bool("startup_sync_ok", state.StartupSyncOK).
		Bool("kill_switch_db", state.KillSwitch).
		Bool("kill_switch_env", w.opts.KillSwitch).
		Msg("startup state")
}

func (w *Worker) audit(ctx context.Context, eventType, message string) {
	if err := w.store.LogEvent(ctx, eventType, message); err != nil {
		w.logger.Warn().Err(err).Str("event", eventType).Msg("audit append failed")
	}
}

func (w *Worker) notify(ctx context.Context, event alerting.Event) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, event); err != nil {
		w.logger.Warn().Err(err).Msg("notification failed")
	}
}
