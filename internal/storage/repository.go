package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	selectSystemStateSQL = `SELECT mode, status, startup_sync_ok, kill_switch, updated_at
    FROM system_state WHERE id = 1;`

	insertAuditSQL = `INSERT INTO audit_log (event_type, message, created_at) VALUES ($1, $2, $3);`

	recentAuditSQL = `SELECT id, event_type, message, created_at
    FROM audit_log ORDER BY id DESC LIMIT $1;`

	openPositionSQL = `INSERT INTO positions (symbol, side, size, entry_price, status, opened_at)
    VALUES ($1, $2, $3, $4, 'OPEN', $5) RETURNING id;`

	closePositionSQL = `UPDATE positions SET status = 'CLOSED', closed_at = $2, pnl = $3
    WHERE id = $1 AND status = 'OPEN';`

	latestOpenPositionSQL = `SELECT id, symbol, side, size::text, entry_price::text, status, opened_at, closed_at, pnl::text
    FROM positions
    WHERE status = 'OPEN' AND UPPER(symbol) = UPPER($1)
    ORDER BY id DESC LIMIT 1;`

	listOpenPositionsSQL = `SELECT id, symbol, side, size::text, entry_price::text, status, opened_at, closed_at, pnl::text
    FROM positions WHERE status = 'OPEN' ORDER BY id;`

	listClosedPositionsBetweenSQL = `SELECT id, symbol, side, size::text, entry_price::text, status, opened_at, closed_at, pnl::text
    FROM positions
    WHERE status = 'CLOSED' AND closed_at >= $1 AND closed_at < $2
    ORDER BY closed_at;`

	countOpenPositionsSQL = `SELECT COUNT(*) FROM positions WHERE status = 'OPEN';`

	dailyRealizedPnLSQL = `SELECT COALESCE(SUM(pnl), 0)::text FROM positions
    WHERE status = 'CLOSED' AND closed_at >= $1;`

	alreadyExecutedSQL = `SELECT 1 FROM executed_signals WHERE signal_id = $1 LIMIT 1;`

	markExecutedSQL = `INSERT INTO executed_signals (signal_id, signal_hash, action, symbol, executed_at)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (signal_id) DO NOTHING;`

	createOcoLinkSQL = `INSERT INTO oco_links
    (signal_id, symbol, base_asset, tp_order_id, sl_order_id, tp_price, sl_stop_price, sl_limit_price, amount, status, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11) RETURNING id;`

	setOcoStatusSQL = `UPDATE oco_links SET status = $2, updated_at = $3 WHERE id = $1;`

	listActiveOcoLinksSQL = `SELECT id, signal_id, symbol, base_asset, tp_order_id, sl_order_id,
        tp_price::text, sl_stop_price::text, sl_limit_price::text, amount::text, status, created_at, updated_at
    FROM oco_links WHERE status = 'ACTIVE' ORDER BY id DESC LIMIT $1;`

	hasActiveOcoForSymbolSQL = `SELECT 1 FROM oco_links
    WHERE status = 'ACTIVE' AND UPPER(symbol) = UPPER($1) LIMIT 1;`
)

// SystemStateStore exposes the singleton control row.
type SystemStateStore interface {
	SystemState(ctx context.Context) (SystemState, error)
	UpdateSystemState(ctx context.Context, patch SystemStatePatch) error
}

// AuditLogger appends to the write-only audit trail.
type AuditLogger interface {
	LogEvent(ctx context.Context, eventType, message string) error
}

// OcoLinkStore is what the reconciler needs from persistence.
type OcoLinkStore interface {
	AuditLogger
	ListActiveOcoLinks(ctx context.Context, limit int) ([]OcoLink, error)
	HasActiveOcoForSymbol(ctx context.Context, symbol string) (bool, error)
	ResolveOcoLink(ctx context.Context, link OcoLink, status string, closePrice decimal.Decimal) error
}

// TradingStore is what the coordinator loop needs from persistence.
type TradingStore interface {
	SystemStateStore
	AuditLogger
	AlreadyExecuted(ctx context.Context, signalID string) (bool, error)
	MarkExecuted(ctx context.Context, sig ExecutedSignal) error
	OpenPositionCount(ctx context.Context) (int, error)
	HasActiveOcoForSymbol(ctx context.Context, symbol string) (bool, error)
	DailyRealizedPnL(ctx context.Context, since time.Time) (decimal.Decimal, error)
	RecordExecution(ctx context.Context, pos Position, link OcoLink, sig ExecutedSignal) (int64, int64, error)
}

type queries struct {
	db querier
}

// SystemState returns the singleton row; ErrNotFound means Init never ran.
func (q queries) SystemState(ctx context.Context) (SystemState, error) {
	var state SystemState
	err := q.db.QueryRow(ctx, selectSystemStateSQL).Scan(
		&state.Mode,
		&state.Status,
		&state.StartupSyncOK,
		&state.KillSwitch,
		&state.UpdatedAt,
	)
	if err != nil {
		return SystemState{}, classify("read system_state", err)
	}
	return state, nil
}

// UpdateSystemState applies only the provided fields and bumps updated_at.
func (q queries) UpdateSystemState(ctx context.Context, patch SystemStatePatch) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Mode != nil {
		add("mode", *patch.Mode)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StartupSyncOK != nil {
		add("startup_sync_ok", *patch.StartupSyncOK)
	}
	if patch.KillSwitch != nil {
		add("kill_switch", *patch.KillSwitch)
	}
	add("updated_at", time.Now().UTC())

	stmt := fmt.Sprintf("UPDATE system_state SET %s WHERE id = 1;", strings.Join(sets, ", "))
	if _, err := q.db.Exec(ctx, stmt, args...); err != nil {
		return classify("update system_state", err)
	}
	return nil
}

// LogEvent appends one audit entry.
func (q queries) LogEvent(ctx context.Context, eventType, message string) error {
	if _, err := q.db.Exec(ctx, insertAuditSQL, eventType, message, time.Now().UTC()); err != nil {
		return classify("append audit_log", err)
	}
	return nil
}

// RecentAuditEntries lists the newest audit rows first.
func (q queries) RecentAuditEntries(ctx context.Context, limit int) ([]AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, recentAuditSQL, limit)
	if err != nil {
		return nil, classify("list audit_log", err)
	}
	defer rows.Close()

	entries := make([]AuditLogEntry, 0, limit)
	for rows.Next() {
		var entry AuditLogEntry
		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, classify("scan audit_log", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, classify("list audit_log", rows.Err())
	}
	return entries, nil
}

// OpenPosition inserts a new OPEN position and returns its id.
func (q queries) OpenPosition(ctx context.Context, pos Position) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, openPositionSQL,
		pos.Symbol,
		pos.Side,
		pos.Size.String(),
		pos.EntryPrice.String(),
		pos.OpenedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, classify("open position", err)
	}
	return id, nil
}

// ClosePosition marks a position CLOSED with its realized pnl.
func (q queries) ClosePosition(ctx context.Context, id int64, pnl decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, closePositionSQL, id, time.Now().UTC(), pnl.String())
	if err != nil {
		return classify("close position", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close position %d: %w", id, ErrNotFound)
	}
	return nil
}

// LatestOpenPosition returns the newest OPEN position for symbol, or ErrNotFound.
func (q queries) LatestOpenPosition(ctx context.Context, symbol string) (Position, error) {
	row := q.db.QueryRow(ctx, latestOpenPositionSQL, symbol)
	pos, err := scanPosition(row)
	if err != nil {
		return Position{}, classify("latest open position", err)
	}
	return pos, nil
}

// ListOpenPositions returns all OPEN positions.
func (q queries) ListOpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := q.db.Query(ctx, listOpenPositionsSQL)
	if err != nil {
		return nil, classify("list open positions", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListClosedPositionsBetween returns CLOSED positions in [from, to).
func (q queries) ListClosedPositionsBetween(ctx context.Context, from, to time.Time) ([]Position, error) {
	rows, err := q.db.Query(ctx, listClosedPositionsBetweenSQL, from, to)
	if err != nil {
		return nil, classify("list closed positions", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// OpenPositionCount counts OPEN positions.
func (q queries) OpenPositionCount(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRow(ctx, countOpenPositionsSQL).Scan(&count); err != nil {
		return 0, classify("count open positions", err)
	}
	return count, nil
}

// DailyRealizedPnL sums pnl over positions closed at or after since.
func (q queries) DailyRealizedPnL(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var raw string
	if err := q.db.QueryRow(ctx, dailyRealizedPnLSQL, since).Scan(&raw); err != nil {
		return decimal.Decimal{}, classify("sum realized pnl", err)
	}
	sum, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse realized pnl: %w", err)
	}
	return sum, nil
}

// AlreadyExecuted reports whether signalID is present in the ledger.
func (q queries) AlreadyExecuted(ctx context.Context, signalID string) (bool, error) {
	var one int
	err := q.db.QueryRow(ctx, alreadyExecutedSQL, signalID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return false, classify("check executed signal", err)
}

// MarkExecuted inserts the ledger row; a duplicate signal_id is a no-op.
func (q queries) MarkExecuted(ctx context.Context, sig ExecutedSignal) error {
	executedAt := sig.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, markExecutedSQL,
		sig.SignalID,
		nullableString(sig.SignalHash),
		nullableString(sig.Action),
		nullableString(sig.Symbol),
		executedAt,
	)
	if err != nil {
		return classify("mark signal executed", err)
	}
	return nil
}

// CreateOcoLink inserts an ACTIVE link and returns its id. Callers must
// check HasActiveOcoForSymbol inside the same transaction first.
func (q queries) CreateOcoLink(ctx context.Context, link OcoLink) (int64, error) {
	status := link.Status
	if status == "" {
		status = OcoActive
	}
	var id int64
	err := q.db.QueryRow(ctx, createOcoLinkSQL,
		link.SignalID,
		link.Symbol,
		link.BaseAsset,
		link.TPOrderID,
		link.SLOrderID,
		link.TPPrice.String(),
		link.SLStopPrice.String(),
		link.SLLimitPrice.String(),
		link.Amount.String(),
		status,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, classify("create oco link", err)
	}
	return id, nil
}

// SetOcoStatus moves a link to a new status and bumps updated_at.
func (q queries) SetOcoStatus(ctx context.Context, id int64, status string) error {
	tag, err := q.db.Exec(ctx, setOcoStatusSQL, id, status, time.Now().UTC())
	if err != nil {
		return classify("set oco status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set oco status %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListActiveOcoLinks returns ACTIVE links, newest first.
func (q queries) ListActiveOcoLinks(ctx context.Context, limit int) ([]OcoLink, error) {
	rows, err := q.db.Query(ctx, listActiveOcoLinksSQL, limit)
	if err != nil {
		return nil, classify("list active oco links", err)
	}
	defer rows.Close()

	links := make([]OcoLink, 0, limit)
	for rows.Next() {
		link, err := scanOcoLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if rows.Err() != nil {
		return nil, classify("list active oco links", rows.Err())
	}
	return links, nil
}

// HasActiveOcoForSymbol reports whether symbol carries an ACTIVE link
// (matched case-insensitively).
func (q queries) HasActiveOcoForSymbol(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := q.db.QueryRow(ctx, hasActiveOcoForSymbolSQL, symbol).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return false, classify("check active oco link", err)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func scanPosition(row pgx.Row) (Position, error) {
	var (
		pos      Position
		sizeStr  string
		entryStr string
		closedAt sql.NullTime
		pnlStr   sql.NullString
	)
	if err := row.Scan(&pos.ID, &pos.Symbol, &pos.Side, &sizeStr, &entryStr, &pos.Status, &pos.OpenedAt, &closedAt, &pnlStr); err != nil {
		return Position{}, err
	}

	var err error
	pos.Size, err = decimal.NewFromString(sizeStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse position size: %w", err)
	}
	pos.EntryPrice, err = decimal.NewFromString(entryStr)
	if err != nil {
		return Position{}, fmt.Errorf("parse entry price: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		pos.ClosedAt = &t
	}
	if pnlStr.Valid {
		pnl, err := decimal.NewFromString(pnlStr.String)
		if err != nil {
			return Position{}, fmt.Errorf("parse pnl: %w", err)
		}
		pos.PnL = &pnl
	}
	return pos, nil
}

func collectPositions(rows pgx.Rows) ([]Position, error) {
	positions := make([]Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, classify("scan position", err)
		}
		positions = append(positions, pos)
	}
	if rows.Err() != nil {
		return nil, classify("list positions", rows.Err())
	}
	return positions, nil
}

func scanOcoLink(rows pgx.Rows) (OcoLink, error) {
	var (
		link    OcoLink
		tpStr   string
		slStop  string
		slLimit string
		amount  string
	)
	if err := rows.Scan(
		&link.ID,
		&link.SignalID,
		&link.Symbol,
		&link.BaseAsset,
		&link.TPOrderID,
		&link.SLOrderID,
		&tpStr,
		&slStop,
		&slLimit,
		&amount,
		&link.Status,
		&link.CreatedAt,
		&link.UpdatedAt,
	); err != nil {
		return OcoLink{}, classify("scan oco link", err)
	}

	var err error
	if link.TPPrice, err = decimal.NewFromString(tpStr); err != nil {
		return OcoLink{}, fmt.Errorf("parse tp price: %w", err)
	}
	if link.SLStopPrice, err = decimal.NewFromString(slStop); err != nil {
		return OcoLink{}, fmt.Errorf("parse sl stop price: %w", err)
	}
	if link.SLLimitPrice, err = decimal.NewFromString(slLimit); err != nil {
		return OcoLink{}, fmt.Errorf("parse sl limit price: %w", err)
	}
	if link.Amount, err = decimal.NewFromString(amount); err != nil {
		return OcoLink{}, fmt.Errorf("parse oco amount: %w", err)
	}
	return link, nil
}
