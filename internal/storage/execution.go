package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RecordExecution persists the full effect of one executed signal in a single
// transaction: the guard re-check, the position, the OCO link, the ledger row,
// and the audit entry. A crash mid-operation leaves either all effects visible
// or none.
func (s *Store) RecordExecution(ctx context.Context, pos Position, link OcoLink, sig ExecutedSignal) (int64, int64, error) {
	var positionID, linkID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		// Re-checked under the transaction so two concurrent executions on
		// the same symbol cannot both pass the admission gate.
		exists, err := tx.HasActiveOcoForSymbol(ctx, link.Symbol)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", link.Symbol, ErrDuplicateActiveLink)
		}

		if positionID, err = tx.OpenPosition(ctx, pos); err != nil {
			return err
		}
		if linkID, err = tx.CreateOcoLink(ctx, link); err != nil {
			return err
		}
		if err = tx.MarkExecuted(ctx, sig); err != nil {
			return err
		}
		msg := fmt.Sprintf("signal_id=%s symbol=%s side=%s size=%s entry=%s",
			sig.SignalID, pos.Symbol, pos.Side, pos.Size.String(), pos.EntryPrice.String())
		return tx.LogEvent(ctx, "SIGNAL_EXECUTED", msg)
	})
	if err != nil {
		return 0, 0, err
	}
	return positionID, linkID, nil
}

// ResolveOcoLink moves an ACTIVE link to a terminal status and, for fill
// outcomes, closes the newest open position on the symbol with its realized
// pnl, all in one transaction. CANCELLED leaves the position open for manual
// review rather than inventing a fill price.
func (s *Store) ResolveOcoLink(ctx context.Context, link OcoLink, status string, closePrice decimal.Decimal) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.SetOcoStatus(ctx, link.ID, status); err != nil {
			return err
		}

		if status == OcoCancelled || status == OcoError {
			msg := fmt.Sprintf("signal_id=%s symbol=%s status=%s position left open", link.SignalID, link.Symbol, status)
			return tx.LogEvent(ctx, "OCO_RESOLVED_NO_FILL", msg)
		}

		pos, err := tx.LatestOpenPosition(ctx, link.Symbol)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Position already closed; resolving the link is still correct.
				return tx.LogEvent(ctx, "OCO_POSITION_MISSING",
					fmt.Sprintf("signal_id=%s symbol=%s status=%s", link.SignalID, link.Symbol, status))
			}
			return err
		}

		pnl := realizedPnL(pos, closePrice)
		if err := tx.ClosePosition(ctx, pos.ID, pnl); err != nil {
			return err
		}
		msg := fmt.Sprintf("signal_id=%s symbol=%s status=%s close=%s pnl=%s",
			link.SignalID, link.Symbol, status, closePrice.String(), pnl.String())
		return tx.LogEvent(ctx, "OCO_RESOLVED", msg)
	})
}

func realizedPnL(pos Position, closePrice decimal.Decimal) decimal.Decimal {
	diff := closePrice.Sub(pos.EntryPrice)
	if pos.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Size)
}
