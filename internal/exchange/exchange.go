package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses as reported by the venue.
const (
	OrderOpen     = "OPEN"
	OrderFilled   = "FILLED"
	OrderCanceled = "CANCELED"
	OrderRejected = "REJECTED"
)

// Order sides.
const (
	Buy  = "BUY"
	Sell = "SELL"
)

// ErrUnknownOrder indicates the venue has no record of the order id.
var ErrUnknownOrder = errors.New("exchange: unknown order")

// Order is the venue-side view of one order.
type Order struct {
	ID        string
	Symbol    string
	Side      string
	Type      string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
	Status    string
	FilledAt  *time.Time
	FillPrice decimal.Decimal
	CreatedAt time.Time
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Adapter abstracts exchange connectivity. Implementations must honour the
// request context and bound every call with a timeout.
type Adapter interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, amount decimal.Decimal) (Order, error)
	PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price decimal.Decimal) (Order, error)
	PlaceStopLimitOrder(ctx context.Context, symbol, side string, amount, stopPrice, limitPrice decimal.Decimal) (Order, error)
	FetchOrder(ctx context.Context, symbol, orderID string) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// MarketData supplies candles for signal generation.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
