package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Paper is an in-memory adapter for DEMO mode. Market orders fill
// immediately at the data source's last price; limit and stop-limit orders
// rest OPEN until a later price observation crosses them.
type Paper struct {
	data   MarketData
	logger zerolog.Logger

	mu     sync.Mutex
	seq    int
	orders map[string]Order
}

// NewPaper constructs a paper adapter over a market data source.
func NewPaper(data MarketData, logger zerolog.Logger) *Paper {
	return &Paper{
		data:   data,
		logger: logger.With().Str("component", "paper_exchange").Logger(),
		orders: make(map[string]Order),
	}
}

func (p *Paper) nextID() string {
	p.seq++
	return fmt.Sprintf("paper-%d", p.seq)
}

// PlaceMarketOrder fills immediately at the last observed price.
func (p *Paper) PlaceMarketOrder(ctx context.Context, symbol, side string, amount decimal.Decimal) (Order, error) {
	price, err := p.data.LastPrice(ctx, symbol)
	if err != nil {
		return Order{}, fmt.Errorf("paper market order: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	order := Order{
		ID:        p.nextID(),
		Symbol:    symbol,
		Side:      side,
		Type:      "MARKET",
		Amount:    amount,
		Price:     price,
		Status:    OrderFilled,
		FilledAt:  &now,
		FillPrice: price,
		CreatedAt: now,
	}
	p.orders[order.ID] = order
	p.logger.Info().Str("symbol", symbol).Str("side", side).Str("price", price.String()).Msg("paper market order filled")
	return order, nil
}

// PlaceLimitOrder rests the order until Tick observes a crossing price.
func (p *Paper) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price decimal.Decimal) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := Order{
		ID:        p.nextID(),
		Symbol:    symbol,
		Side:      side,
		Type:      "LIMIT",
		Amount:    amount,
		Price:     price,
		Status:    OrderOpen,
		CreatedAt: time.Now().UTC(),
	}
	p.orders[order.ID] = order
	return order, nil
}

// PlaceStopLimitOrder rests the order until Tick observes a crossing price.
func (p *Paper) PlaceStopLimitOrder(ctx context.Context, symbol, side string, amount, stopPrice, limitPrice decimal.Decimal) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order := Order{
		ID:        p.nextID(),
		Symbol:    symbol,
		Side:      side,
		Type:      "STOP_LIMIT",
		Amount:    amount,
		Price:     limitPrice,
		StopPrice: stopPrice,
		Status:    OrderOpen,
		CreatedAt: time.Now().UTC(),
	}
	p.orders[order.ID] = order
	return order, nil
}

// FetchOrder returns the venue-side order state.
func (p *Paper) FetchOrder(ctx context.Context, symbol, orderID string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%s: %w", orderID, ErrUnknownOrder)
	}
	return order, nil
}

// CancelOrder cancels a resting order; cancelling a filled or already
// cancelled order is an error, matching venue behaviour.
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%s: %w", orderID, ErrUnknownOrder)
	}
	if order.Status != OrderOpen {
		return fmt.Errorf("cancel %s: order is %s", orderID, order.Status)
	}
	order.Status = OrderCanceled
	p.orders[orderID] = order
	return nil
}

// LastPrice proxies the underlying data source.
func (p *Paper) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.data.LastPrice(ctx, symbol)
}

// Tick marks resting orders filled when price crosses them: sell limits fill
// at or above their limit price, sell stop-limits trigger at or below their
// stop price. Called opportunistically; live venues do this server-side.
func (p *Paper) Tick(ctx context.Context, symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	for id, order := range p.orders {
		if order.Status != OrderOpen || !strings.EqualFold(order.Symbol, symbol) {
			continue
		}
		filled := false
		switch order.Type {
		case "LIMIT":
			if order.Side == Sell && price.GreaterThanOrEqual(order.Price) {
				filled = true
			}
			if order.Side == Buy && price.LessThanOrEqual(order.Price) {
				filled = true
			}
		case "STOP_LIMIT":
			if order.Side == Sell && price.LessThanOrEqual(order.StopPrice) {
				filled = true
			}
			if order.Side == Buy && price.GreaterThanOrEqual(order.StopPrice) {
				filled = true
			}
		}
		if filled {
			order.Status = OrderFilled
			order.FilledAt = &now
			order.FillPrice = order.Price
			p.orders[id] = order
		}
	}
}

var _ Adapter = (*Paper)(nil)
