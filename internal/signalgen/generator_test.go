package signalgen

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/config"
	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/outbox"
)

type fakeData struct {
	closes map[string][]float64
}

func (f *fakeData) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	closes := f.closes[symbol]
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{Close: decimal.NewFromFloat(c)}
	}
	return candles, nil
}

func (f *fakeData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	closes := f.closes[symbol]
	return decimal.NewFromFloat(closes[len(closes)-1]), nil
}

type fakeAppender struct {
	signals []outbox.Signal
}

func (f *fakeAppender) Append(sig outbox.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}

type fakeCounter struct {
	count int
}

func (f *fakeCounter) OpenPositionCount(ctx context.Context) (int, error) {
	return f.count, nil
}

func testGenConfig() config.GeneratorConfig {
	return config.GeneratorConfig{
		Enabled:          true,
		Symbols:          []string{"BTCUSDT"},
		Timeframe:        "1m",
		CandleLimit:      10,
		MAPeriod:         5,
		MinConfidence:    0.70,
		QuoteSize:        100,
		TPPct:            0.03,
		SLPct:            0.015,
		SLLimitBufferPct: 0.001,
		Cooldown:         10 * time.Minute,
		Interval:         time.Second,
	}
}

// risingCloses ends above its moving average.
func risingCloses() []float64 {
	return []float64{100, 100, 100, 100, 100, 101, 102, 103, 104, 110}
}

func TestRunOnceEmitsSignalAboveMA(t *testing.T) {
	data := &fakeData{closes: map[string][]float64{"BTCUSDT": risingCloses()}}
	appender := &fakeAppender{}
	g := New(testGenConfig(), data, appender, &fakeCounter{}, 1, zerolog.Nop())

	wrote, err := g.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 失败: %v", err)
	}
	if !wrote || len(appender.signals) != 1 {
		t.Fatalf("收盘价高于均线应产出信号, 实际 %d", len(appender.signals))
	}

	sig := appender.signals[0]
	if sig.FinalVerdict != outbox.VerdictTrade || sig.Execution.Direction != "LONG" {
		t.Fatalf("信号内容不一致: %+v", sig)
	}
	if !strings.HasPrefix(sig.SignalID, "DYZEN-") || len(sig.SignalID) != len("DYZEN-")+12 {
		t.Fatalf("信号 id 格式应为 DYZEN-<12 hex>, 实际 %s", sig.SignalID)
	}
	if err := sig.Validate(); err != nil {
		t.Fatalf("产出的信号应自洽: %v", err)
	}

	last := decimal.NewFromInt(110)
	if !sig.Execution.Exits.TP.Price.Equal(last.Mul(decimal.NewFromFloat(1.03))) {
		t.Fatalf("TP 价格不一致: %s", sig.Execution.Exits.TP.Price)
	}
	wantStop := last.Mul(decimal.NewFromFloat(0.985))
	if !sig.Execution.Exits.SL.StopPrice.Equal(wantStop) {
		t.Fatalf("SL 触发价不一致: %s", sig.Execution.Exits.SL.StopPrice)
	}
	if !sig.Execution.Exits.SL.LimitPrice.LessThan(wantStop) {
		t.Fatalf("SL 限价应低于触发价: %s", sig.Execution.Exits.SL.LimitPrice)
	}
}

func TestRunOnceBelowMAEmitsNothing(t *testing.T) {
	falling := []float64{110, 108, 106, 104, 102, 100, 98, 96, 94, 92}
	data := &fakeData{closes: map[string][]float64{"BTCUSDT": falling}}
	appender := &fakeAppender{}
	g := New(testGenConfig(), data, appender, &fakeCounter{}, 1, zerolog.Nop())

	wrote, err := g.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 失败: %v", err)
	}
	if wrote || len(appender.signals) != 0 {
		t.Fatalf("收盘价低于均线不应产出信号: %+v", appender.signals)
	}
}

func TestRunOnceCooldownSuppressesRepeat(t *testing.T) {
	data := &fakeData{closes: map[string][]float64{"BTCUSDT": risingCloses()}}
	appender := &fakeAppender{}
	g := New(testGenConfig(), data, appender, &fakeCounter{}, 1, zerolog.Nop())

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }

	if _, err := g.RunOnce(context.Background()); err != nil {
		t.Fatalf("首轮失败: %v", err)
	}

	// 冷却窗口内: 不再产出。
	g.now = func() time.Time { return base.Add(5 * time.Minute) }
	if wrote, _ := g.RunOnce(context.Background()); wrote {
		t.Fatal("冷却期内不应重复产出信号")
	}

	// 冷却结束后恢复产出。
	g.now = func() time.Time { return base.Add(11 * time.Minute) }
	if wrote, _ := g.RunOnce(context.Background()); !wrote {
		t.Fatal("冷却结束后应恢复产出")
	}
	if len(appender.signals) != 2 {
		t.Fatalf("应共产出两个信号, 实际 %d", len(appender.signals))
	}
}

func TestRunOnceRespectsOpenPositionLimit(t *testing.T) {
	data := &fakeData{closes: map[string][]float64{"BTCUSDT": risingCloses()}}
	appender := &fakeAppender{}
	g := New(testGenConfig(), data, appender, &fakeCounter{count: 1}, 1, zerolog.Nop())

	wrote, err := g.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 失败: %v", err)
	}
	if wrote {
		t.Fatal("持仓达上限时不应产出信号")
	}
}

func TestRunOnceTooFewCandles(t *testing.T) {
	data := &fakeData{closes: map[string][]float64{"BTCUSDT": {100, 101}}}
	appender := &fakeAppender{}
	g := New(testGenConfig(), data, appender, &fakeCounter{}, 1, zerolog.Nop())

	if wrote, err := g.RunOnce(context.Background()); err != nil || wrote {
		t.Fatalf("K 线不足时应静默跳过: wrote=%v err=%v", wrote, err)
	}
}

func TestRunDisabledGenerator(t *testing.T) {
	cfg := testGenConfig()
	cfg.Enabled = false
	g := New(cfg, &fakeData{}, &fakeAppender{}, &fakeCounter{}, 1, zerolog.Nop())

	if err := g.Run(context.Background()); err == nil {
		t.Fatal("未启用的生成器应拒绝 Run")
	}
}

func TestSMA(t *testing.T) {
	values := []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.NewFromInt(2),
		decimal.NewFromInt(3),
		decimal.NewFromInt(4),
	}
	got := sma(values, 2)
	if !got.Equal(decimal.NewFromFloat(3.5)) {
		t.Fatalf("后两项的均值应为 3.5, 实际 %s", got)
	}
}
