package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/alerting"
	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/outbox"
	"dyzen-trader/internal/storage"
)

// SymbolGuard rejects execution on symbols with live bracket exposure.
type SymbolGuard interface {
	EnsureSymbolFree(ctx context.Context, symbol string) error
}

// Executor turns one popped signal into its persisted, idempotent effect:
// an entry order, a position, an OCO link, and a ledger row — or a recorded
// rejection. The ledger check runs before any side effect; redelivered
// signals are dropped without touching the exchange.
type Executor struct {
	store   storage.TradingStore
	adapter exchange.Adapter
	guard   SymbolGuard
	maxOpen int
	logger  zerolog.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(store storage.TradingStore, adapter exchange.Adapter, guard SymbolGuard, maxOpen int, logger zerolog.Logger) *Executor {
	return &Executor{
		store:   store,
		adapter: adapter,
		guard:   guard,
		maxOpen: maxOpen,
		logger:  logger.With().Str("component", "executor").Logger(),
	}
}

// Result reports what Execute did with a signal.
type Result struct {
	Action     string
	Executed   bool
	Symbol     string
	Side       string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// Execute processes one signal end to end.
func (e *Executor) Execute(ctx context.Context, sig *outbox.Signal) (Result, error) {
	already, err := e.store.AlreadyExecuted(ctx, sig.SignalID)
	if err != nil {
		return Result{}, fmt.Errorf("ledger check: %w", err)
	}
	if already {
		// Redelivery: drop silently beyond this log line, no store mutation.
		e.logger.Info().Str("signal_id", sig.SignalID).Msg("duplicate signal skipped")
		return Result{Action: "DUPLICATE_SKIP"}, nil
	}

	if err := sig.Validate(); err != nil {
		e.audit(ctx, "SIGNAL_INVALID", fmt.Sprintf("signal_id=%s err=%v", sig.SignalID, err))
		return Result{Action: "INVALID"}, nil
	}

	if sig.FinalVerdict == outbox.VerdictNoTrade {
		return e.reject(ctx, sig, storage.ActionNoTrade, "SIGNAL_NO_TRADE", "verdict is NO_TRADE")
	}

	symbol := sig.Execution.Symbol
	if err := e.guard.EnsureSymbolFree(ctx, symbol); err != nil {
		if errors.Is(err, storage.ErrDuplicateActiveLink) {
			return e.reject(ctx, sig, storage.ActionRejectedDuplicate, "SIGNAL_REJECTED",
				fmt.Sprintf("active oco link exists for %s", symbol))
		}
		return Result{}, fmt.Errorf("symbol guard: %w", err)
	}

	count, err := e.store.OpenPositionCount(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("count open positions: %w", err)
	}
	if count >= e.maxOpen {
		return e.reject(ctx, sig, storage.ActionRejectedMaxOpen, "SIGNAL_REJECTED",
			fmt.Sprintf("open positions %d at limit %d", count, e.maxOpen))
	}

	return e.place(ctx, sig)
}

// place opens the position at the exchange and records the whole effect in
// one transaction. The entry order is the point of no return: once it is
// placed, the signal is marked executed even if the exit legs fail, because
// re-running the signal would double the entry.
func (e *Executor) place(ctx context.Context, sig *outbox.Signal) (Result, error) {
	symbol := sig.Execution.Symbol
	size := sig.Execution.PositionSize
	side := strings.ToUpper(sig.Execution.Direction)

	entrySide, exitSide := exchange.Buy, exchange.Sell
	if side == storage.SideShort {
		entrySide, exitSide = exchange.Sell, exchange.Buy
	}

	entry, err := e.adapter.PlaceMarketOrder(ctx, symbol, entrySide, size)
	if err != nil {
		// Nothing placed; the signal stays unmarked and the audit trail
		// records the attempt. A redelivery may retry cleanly.
		e.audit(ctx, "ENTRY_ORDER_FAIL", fmt.Sprintf("signal_id=%s symbol=%s err=%v", sig.SignalID, symbol, err))
		return Result{}, fmt.Errorf("place entry order: %w", err)
	}

	entryPrice := entry.FillPrice
	if entryPrice.IsZero() {
		if entryPrice, err = e.adapter.LastPrice(ctx, symbol); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("no fill price; last price lookup failed")
			entryPrice = entry.Price
		}
	}

	action := storage.ActionExecuted
	linkStatus := storage.OcoActive
	tpID, slID := "", ""

	tp, tpErr := e.adapter.PlaceLimitOrder(ctx, symbol, exitSide, size, sig.Execution.Exits.TP.Price)
	if tpErr == nil {
		tpID = tp.ID
	}
	sl, slErr := e.adapter.PlaceStopLimitOrder(ctx, symbol, exitSide, size,
		sig.Execution.Exits.SL.StopPrice, sig.Execution.Exits.SL.LimitPrice)
	if slErr == nil {
		slID = sl.ID
	}

	if tpErr != nil || slErr != nil {
		e.cancelPlacedExits(ctx, symbol, tpID, slID)
		action = storage.ActionExecutedExitsFailed
		linkStatus = storage.OcoError
		e.audit(ctx, "EXIT_ORDERS_FAIL", fmt.Sprintf("signal_id=%s symbol=%s tp_err=%v sl_err=%v", sig.SignalID, symbol, tpErr, slErr))
	}

	pos := storage.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		OpenedAt:   time.Now().UTC(),
	}
	link := storage.OcoLink{
		SignalID:     sig.SignalID,
		Symbol:       symbol,
		BaseAsset:    sig.BaseAsset(),
		TPOrderID:    tpID,
		SLOrderID:    slID,
		TPPrice:      sig.Execution.Exits.TP.Price,
		SLStopPrice:  sig.Execution.Exits.SL.StopPrice,
		SLLimitPrice: sig.Execution.Exits.SL.LimitPrice,
		Amount:       size,
		Status:       linkStatus,
	}
	ledger := storage.ExecutedSignal{
		SignalID:   sig.SignalID,
		SignalHash: hashSignal(sig),
		Action:     action,
		Symbol:     symbol,
	}

	if _, _, err := e.store.RecordExecution(ctx, pos, link, ledger); err != nil {
		// The entry is live but the record failed. Marking executed is the
		// lesser risk: the ledger write is idempotent, a doubled entry is not.
		e.audit(ctx, "EXECUTION_RECORD_FAIL", fmt.Sprintf("signal_id=%s symbol=%s err=%v", sig.SignalID, symbol, err))
		if markErr := e.store.MarkExecuted(ctx, ledger); markErr != nil {
			e.logger.Error().Err(markErr).Str("signal_id", sig.SignalID).Msg("ledger write failed after record failure")
		}
		return Result{}, fmt.Errorf("record execution: %w", err)
	}

	e.logger.Info().
		Str("signal_id", sig.SignalID).
		Str("symbol", symbol).
		Str("side", side).
		Str("size", size.String()).
		Str("entry_price", entryPrice.String()).
		Msg("signal executed")

	return Result{
		Action:     action,
		Executed:   true,
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
	}, nil
}

func (e *Executor) cancelPlacedExits(ctx context.Context, symbol, tpID, slID string) {
	for _, id := range []string{tpID, slID} {
		if id == "" {
			continue
		}
		if err := e.adapter.CancelOrder(ctx, symbol, id); err != nil {
			e.logger.Warn().Err(err).Str("order_id", id).Msg("cancel of placed exit failed")
		}
	}
}

// reject consumes the signal without trading: the ledger row carries the
// rejection action so the decision stays auditable and redelivery stays a
// no-op.
func (e *Executor) reject(ctx context.Context, sig *outbox.Signal, action, eventType, reason string) (Result, error) {
	ledger := storage.ExecutedSignal{
		SignalID:   sig.SignalID,
		SignalHash: hashSignal(sig),
		Action:     action,
		Symbol:     sig.Execution.Symbol,
	}
	if err := e.store.MarkExecuted(ctx, ledger); err != nil {
		return Result{}, fmt.Errorf("mark rejected signal: %w", err)
	}
	e.audit(ctx, eventType, fmt.Sprintf("signal_id=%s action=%s %s", sig.SignalID, action, reason))
	return Result{Action: action, Symbol: sig.Execution.Symbol}, nil
}

func (e *Executor) audit(ctx context.Context, eventType, message string) {
	if err := e.store.LogEvent(ctx, eventType, message); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("audit append failed")
	}
}

func hashSignal(sig *outbox.Signal) string {
	payload, err := json.Marshal(sig)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// executeSignal runs the executor and emits the trade notification; errors
// are already audited inside Execute and never escape the iteration.
func (w *Worker) executeSignal(ctx context.Context, sig *outbox.Signal) {
	result, err := w.executor.Execute(ctx, sig)
	if err != nil {
		w.logger.Error().Err(err).Str("signal_id", sig.SignalID).Msg("signal execution failed")
		return
	}
	if result.Executed {
		w.notify(ctx, alerting.Event{
			Kind:     alerting.KindTradeExecuted,
			SignalID: sig.SignalID,
			Symbol:   result.Symbol,
			Side:     result.Side,
			Size:     result.Size,
			Price:    result.EntryPrice,
		})
	}
}
