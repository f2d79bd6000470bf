package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type staticData struct {
	price decimal.Decimal
	err   error
}

func (s *staticData) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	return nil, errors.New("not used")
}

func (s *staticData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	return s.price, nil
}

func newTestPaper(price int64) *Paper {
	return NewPaper(&staticData{price: decimal.NewFromInt(price)}, zerolog.Nop())
}

func TestPaperMarketOrderFillsAtLastPrice(t *testing.T) {
	p := newTestPaper(100)

	order, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", Buy, decimal.NewFromFloat(0.01))
	if err != nil {
		t.Fatalf("市价单失败: %v", err)
	}
	if order.Status != OrderFilled {
		t.Fatalf("市价单应立即成交, 实际 %s", order.Status)
	}
	if !order.FillPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("成交价应为最新价 100, 实际 %s", order.FillPrice)
	}
	if order.FilledAt == nil {
		t.Fatal("成交单应带成交时间")
	}
}

func TestPaperMarketOrderDataFailure(t *testing.T) {
	p := NewPaper(&staticData{err: errors.New("feed down")}, zerolog.Nop())

	if _, err := p.PlaceMarketOrder(context.Background(), "BTCUSDT", Buy, decimal.NewFromInt(1)); err == nil {
		t.Fatal("行情不可用时市价单应失败")
	}
}

func TestPaperLimitOrderRestsUntilTick(t *testing.T) {
	p := newTestPaper(100)
	ctx := context.Background()

	order, err := p.PlaceLimitOrder(ctx, "BTCUSDT", Sell, decimal.NewFromInt(1), decimal.NewFromInt(105))
	if err != nil {
		t.Fatalf("限价单失败: %v", err)
	}
	if order.Status != OrderOpen {
		t.Fatalf("限价单应挂起, 实际 %s", order.Status)
	}

	// 价格未触及: 仍然挂起。
	p.Tick(ctx, "BTCUSDT", decimal.NewFromInt(104))
	got, err := p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if err != nil {
		t.Fatalf("FetchOrder 失败: %v", err)
	}
	if got.Status != OrderOpen {
		t.Fatalf("未触及的限价单不应成交: %s", got.Status)
	}

	// 价格越过限价: 成交。
	p.Tick(ctx, "BTCUSDT", decimal.NewFromInt(105))
	got, _ = p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if got.Status != OrderFilled {
		t.Fatalf("越过限价后应成交: %s", got.Status)
	}
	if !got.FillPrice.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("限价单应按限价成交, 实际 %s", got.FillPrice)
	}
}

func TestPaperStopLimitTriggersBelowStop(t *testing.T) {
	p := newTestPaper(100)
	ctx := context.Background()

	order, err := p.PlaceStopLimitOrder(ctx, "BTCUSDT", Sell, decimal.NewFromInt(1), decimal.NewFromInt(95), decimal.NewFromInt(94))
	if err != nil {
		t.Fatalf("止损限价单失败: %v", err)
	}

	p.Tick(ctx, "BTCUSDT", decimal.NewFromInt(96))
	got, _ := p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if got.Status != OrderOpen {
		t.Fatalf("未触发的止损单不应成交: %s", got.Status)
	}

	p.Tick(ctx, "BTCUSDT", decimal.NewFromInt(95))
	got, _ = p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if got.Status != OrderFilled {
		t.Fatalf("触发后应成交: %s", got.Status)
	}
}

func TestPaperTickIgnoresOtherSymbols(t *testing.T) {
	p := newTestPaper(100)
	ctx := context.Background()

	order, _ := p.PlaceLimitOrder(ctx, "BTCUSDT", Sell, decimal.NewFromInt(1), decimal.NewFromInt(105))
	p.Tick(ctx, "ETHUSDT", decimal.NewFromInt(200))

	got, _ := p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if got.Status != OrderOpen {
		t.Fatalf("其他 symbol 的行情不应触发成交: %s", got.Status)
	}
}

func TestPaperCancelSemantics(t *testing.T) {
	p := newTestPaper(100)
	ctx := context.Background()

	order, _ := p.PlaceLimitOrder(ctx, "BTCUSDT", Sell, decimal.NewFromInt(1), decimal.NewFromInt(105))
	if err := p.CancelOrder(ctx, "BTCUSDT", order.ID); err != nil {
		t.Fatalf("取消挂单应成功: %v", err)
	}

	// 再次取消: 订单已非 OPEN。
	if err := p.CancelOrder(ctx, "BTCUSDT", order.ID); err == nil {
		t.Fatal("重复取消应失败")
	}

	market, _ := p.PlaceMarketOrder(ctx, "BTCUSDT", Buy, decimal.NewFromInt(1))
	if err := p.CancelOrder(ctx, "BTCUSDT", market.ID); err == nil {
		t.Fatal("取消已成交订单应失败")
	}
}

func TestPaperUnknownOrder(t *testing.T) {
	p := newTestPaper(100)

	if _, err := p.FetchOrder(context.Background(), "BTCUSDT", "missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("未知订单应返回 ErrUnknownOrder, 实际 %v", err)
	}
	if err := p.CancelOrder(context.Background(), "BTCUSDT", "missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("取消未知订单应返回 ErrUnknownOrder, 实际 %v", err)
	}
}

func TestPaperCancelledOrderDoesNotFill(t *testing.T) {
	p := newTestPaper(100)
	ctx := context.Background()

	order, _ := p.PlaceLimitOrder(ctx, "BTCUSDT", Sell, decimal.NewFromInt(1), decimal.NewFromInt(105))
	_ = p.CancelOrder(ctx, "BTCUSDT", order.ID)
	p.Tick(ctx, "BTCUSDT", decimal.NewFromInt(110))

	got, _ := p.FetchOrder(ctx, "BTCUSDT", order.ID)
	if got.Status != OrderCanceled {
		t.Fatalf("已取消的订单不应被 Tick 成交: %s", got.Status)
	}
}
