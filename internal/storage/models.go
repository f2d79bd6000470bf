package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trading modes.
const (
	ModeDemo    = "DEMO"
	ModeTestnet = "TESTNET"
	ModeLive    = "LIVE"
)

// System statuses.
const (
	StatusRunning = "RUNNING"
	StatusPaused  = "PAUSED"
)

// Position statuses.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Position sides.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// OCO link statuses. ACTIVE is the only non-terminal state.
const (
	OcoActive    = "ACTIVE"
	OcoFilledTP  = "FILLED_TP"
	OcoFilledSL  = "FILLED_SL"
	OcoCancelled = "CANCELLED"
	OcoError     = "ERROR"
)

// Ledger actions recorded alongside executed signal ids.
const (
	ActionExecuted            = "EXECUTED"
	ActionNoTrade             = "NO_TRADE"
	ActionRejectedDuplicate   = "REJECTED_DUPLICATE_SYMBOL"
	ActionRejectedMaxOpen     = "REJECTED_MAX_POSITIONS"
	ActionExecutedExitsFailed = "EXECUTED_EXITS_FAILED"
)

// SystemState is the singleton control row (id=1).
type SystemState struct {
	Mode          string
	Status        string
	StartupSyncOK bool
	KillSwitch    bool
	UpdatedAt     time.Time
}

// SystemStatePatch carries the fields to change; nil fields are left untouched.
// Every applied patch refreshes updated_at.
type SystemStatePatch struct {
	Mode          *string
	Status        *string
	StartupSyncOK *bool
	KillSwitch    *bool
}

// Position is one holding opened by signal execution.
type Position struct {
	ID         int64
	Symbol     string
	Side       string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Status     string
	OpenedAt   time.Time
	ClosedAt   *time.Time
	PnL        *decimal.Decimal
}

// AuditLogEntry is an append-only observability record.
type AuditLogEntry struct {
	ID        int64
	EventType string
	Message   string
	CreatedAt time.Time
}

// OcoLink pairs the take-profit and stop-loss orders of one executed signal.
type OcoLink struct {
	ID           int64
	SignalID     string
	Symbol       string
	BaseAsset    string
	TPOrderID    string
	SLOrderID    string
	TPPrice      decimal.Decimal
	SLStopPrice  decimal.Decimal
	SLLimitPrice decimal.Decimal
	Amount       decimal.Decimal
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutedSignal is one idempotency-ledger row. signal_id is globally unique;
// inserting it is the single gate for "has this signal been acted on".
type ExecutedSignal struct {
	SignalID   string
	SignalHash string
	Action     string
	Symbol     string
	ExecutedAt time.Time
}
