package oco

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/storage"
)

// reconcileBatchLimit bounds one pass; leftovers are picked up next iteration.
const reconcileBatchLimit = 50

// Manager reconciles ACTIVE OCO links against the exchange. Links only ever
// leave ACTIVE through Reconcile; the execution path never guesses status.
type Manager struct {
	store   storage.OcoLinkStore
	adapter exchange.Adapter
	logger  zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(store storage.OcoLinkStore, adapter exchange.Adapter, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		adapter: adapter,
		logger:  logger.With().Str("component", "oco").Logger(),
	}
}

// Ticker is implemented by venues that fill resting orders locally instead of
// server-side. The reconciler feeds them the latest price so exits can fill.
type Ticker interface {
	Tick(ctx context.Context, symbol string, price decimal.Decimal)
}

// Reconcile walks every ACTIVE link, querying both child orders. Exactly one
// filled leg resolves the link, cancels the sibling best-effort, and closes
// the position. Lookup errors leave the link ACTIVE for the next pass; a run
// with no exchange-side change makes no state transitions, so back-to-back
// calls are safe.
func (m *Manager) Reconcile(ctx context.Context) error {
	links, err := m.store.ListActiveOcoLinks(ctx, reconcileBatchLimit)
	if err != nil {
		return fmt.Errorf("list active links: %w", err)
	}

	if ticker, ok := m.adapter.(Ticker); ok {
		m.tickSymbols(ctx, ticker, links)
	}

	for _, link := range links {
		if err := m.reconcileLink(ctx, link); err != nil {
			m.logger.Warn().Err(err).Str("signal_id", link.SignalID).Str("symbol", link.Symbol).Msg("link reconciliation failed")
			m.audit(ctx, "OCO_RECONCILE_FAIL", fmt.Sprintf("signal_id=%s symbol=%s err=%v", link.SignalID, link.Symbol, err))
		}
	}
	return nil
}

// tickSymbols pushes one price observation per distinct symbol into a local
// venue before order state is read. Price lookup failures are skipped; the
// affected links simply stay ACTIVE this pass.
func (m *Manager) tickSymbols(ctx context.Context, ticker Ticker, links []storage.OcoLink) {
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, ok := seen[link.Symbol]; ok {
			continue
		}
		seen[link.Symbol] = struct{}{}

		price, err := m.adapter.LastPrice(ctx, link.Symbol)
		if err != nil {
			m.logger.Debug().Err(err).Str("symbol", link.Symbol).Msg("no price for local venue tick")
			continue
		}
		ticker.Tick(ctx, link.Symbol, price)
	}
}

func (m *Manager) reconcileLink(ctx context.Context, link storage.OcoLink) error {
	tp, err := m.adapter.FetchOrder(ctx, link.Symbol, link.TPOrderID)
	if err != nil {
		return fmt.Errorf("fetch tp order %s: %w", link.TPOrderID, err)
	}
	sl, err := m.adapter.FetchOrder(ctx, link.Symbol, link.SLOrderID)
	if err != nil {
		return fmt.Errorf("fetch sl order %s: %w", link.SLOrderID, err)
	}

	tpFilled := tp.Status == exchange.OrderFilled
	slFilled := sl.Status == exchange.OrderFilled

	switch {
	case !tpFilled && !slFilled:
		if tp.Status == exchange.OrderCanceled && sl.Status == exchange.OrderCanceled {
			// Both legs cancelled externally: resolve the link but keep the
			// position open for manual review.
			return m.store.ResolveOcoLink(ctx, link, storage.OcoCancelled, decimal.Decimal{})
		}
		// Steady state, nothing to log.
		return nil

	case tpFilled && slFilled:
		// Exchange-side race: both legs report filled. Resolve toward the
		// leg with the earlier fill timestamp, take-profit on a tie.
		if slWins(tp, sl) {
			return m.resolveFilled(ctx, link, storage.OcoFilledSL, sl, tp)
		}
		return m.resolveFilled(ctx, link, storage.OcoFilledTP, tp, sl)

	case tpFilled:
		return m.resolveFilled(ctx, link, storage.OcoFilledTP, tp, sl)

	default:
		return m.resolveFilled(ctx, link, storage.OcoFilledSL, sl, tp)
	}
}

func (m *Manager) resolveFilled(ctx context.Context, link storage.OcoLink, status string, winner, sibling exchange.Order) error {
	if sibling.Status == exchange.OrderOpen {
		if err := m.adapter.CancelOrder(ctx, link.Symbol, sibling.ID); err != nil {
			// Best-effort: a failed cancel must not block closing the book.
			m.logger.Warn().Err(err).Str("order_id", sibling.ID).Str("symbol", link.Symbol).Msg("sibling cancel failed")
			m.audit(ctx, "OCO_CANCEL_FAIL", fmt.Sprintf("signal_id=%s symbol=%s order_id=%s err=%v", link.SignalID, link.Symbol, sibling.ID, err))
		}
	}

	closePrice := winner.FillPrice
	if closePrice.IsZero() {
		closePrice = winner.Price
	}
	return m.store.ResolveOcoLink(ctx, link, status, closePrice)
}

// slWins reports whether the stop-loss leg's fill should take precedence
// when both legs are filled.
func slWins(tp, sl exchange.Order) bool {
	if tp.FilledAt == nil || sl.FilledAt == nil {
		return false
	}
	return sl.FilledAt.Before(*tp.FilledAt)
}

func (m *Manager) audit(ctx context.Context, eventType, message string) {
	if err := m.store.LogEvent(ctx, eventType, message); err != nil {
		m.logger.Warn().Err(err).Str("event", eventType).Msg("audit append failed")
	}
}

// EnsureSymbolFree rejects execution on a symbol that already carries an
// ACTIVE link. The check is repeated inside the recording transaction; this
// early form exists so rejected signals never reach the exchange.
func (m *Manager) EnsureSymbolFree(ctx context.Context, symbol string) error {
	exists, err := m.store.HasActiveOcoForSymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", symbol, storage.ErrDuplicateActiveLink)
	}
	return nil
}

// IsDuplicateActiveLink reports whether err is the duplicate-symbol guard.
func IsDuplicateActiveLink(err error) bool {
	return errors.Is(err, storage.ErrDuplicateActiveLink)
}
