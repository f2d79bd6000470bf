package outbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Verdicts carried by a signal.
const (
	VerdictTrade   = "TRADE"
	VerdictNoTrade = "NO_TRADE"
)

// Signal is one outbox entry produced by a signal source.
type Signal struct {
	SignalID        string         `json:"signal_id"`
	CreatedAtUTC    time.Time      `json:"created_at_utc"`
	FinalVerdict    string         `json:"final_verdict"`
	CertifiedSignal bool           `json:"certified_signal,omitempty"`
	Execution       Execution      `json:"execution"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Execution is the tradable payload of a TRADE signal.
type Execution struct {
	Symbol       string          `json:"symbol"`
	Direction    string          `json:"direction"`
	PositionSize decimal.Decimal `json:"position_size"`
	Entry        Entry           `json:"entry"`
	Exits        Exits           `json:"exits"`
}

// Entry describes how the position is opened.
type Entry struct {
	Type string `json:"type"`
}

// Exits pairs the two bracket orders.
type Exits struct {
	TP TakeProfit `json:"tp"`
	SL StopLoss   `json:"sl"`
}

// TakeProfit is the profit-taking exit leg.
type TakeProfit struct {
	Type  string          `json:"type"`
	Price decimal.Decimal `json:"price"`
}

// StopLoss is the protective exit leg.
type StopLoss struct {
	Type       string          `json:"type"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// Validate checks the fields the coordinator depends on. NO_TRADE signals
// only need an id and verdict.
func (s Signal) Validate() error {
	if s.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	switch s.FinalVerdict {
	case VerdictNoTrade:
		return nil
	case VerdictTrade:
	default:
		return fmt.Errorf("unknown final_verdict %q", s.FinalVerdict)
	}
	if s.Execution.Symbol == "" {
		return fmt.Errorf("execution.symbol is required")
	}
	if s.Execution.PositionSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("execution.position_size must be positive")
	}
	if s.Execution.Exits.TP.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("execution.exits.tp.price must be positive")
	}
	if s.Execution.Exits.SL.StopPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("execution.exits.sl.stop_price must be positive")
	}
	return nil
}

// BaseAsset derives the base asset from the symbol (e.g. BTCUSDT -> BTC,
// BTC/USDT -> BTC). Falls back to the whole symbol when no quote suffix is
// recognised.
func (s Signal) BaseAsset() string {
	symbol := strings.ToUpper(s.Execution.Symbol)
	if base, _, ok := strings.Cut(symbol, "/"); ok {
		return base
	}
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}
