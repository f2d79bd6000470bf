package signalgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/config"
	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/outbox"
	"dyzen-trader/internal/scheduler"
)

// Appender is the outbox side the generator writes to.
type Appender interface {
	Append(sig outbox.Signal) error
}

// PositionCounter exposes current open exposure for the admission pre-check.
type PositionCounter interface {
	OpenPositionCount(ctx context.Context) (int, error)
}

// Generator is the signal source: it scans the configured symbols against a
// simple moving-average rule and deposits at most one TRADE signal per pass
// into the outbox. Per-symbol cooldowns live on the Generator itself so
// behaviour is deterministic under testing and restart.
type Generator struct {
	cfg       config.GeneratorConfig
	data      exchange.MarketData
	appender  Appender
	positions PositionCounter
	maxOpen   int
	logger    zerolog.Logger
	now       func() time.Time

	lastSignalAt map[string]time.Time
}

// New constructs a Generator.
func New(cfg config.GeneratorConfig, data exchange.MarketData, appender Appender, positions PositionCounter, maxOpen int, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:          cfg,
		data:         data,
		appender:     appender,
		positions:    positions,
		maxOpen:      maxOpen,
		logger:       logger.With().Str("component", "signalgen").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
		lastSignalAt: make(map[string]time.Time),
	}
}

// Run blocks, generating on the configured cadence until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	if !g.cfg.Enabled {
		return fmt.Errorf("generator is disabled in configuration")
	}

	g.logger.Info().Strs("symbols", g.cfg.Symbols).Dur("interval", g.cfg.Interval).Msg("signal generator starting")

	sched := scheduler.New(scheduler.Options{Interval: g.cfg.Interval}, g.logger)
	return sched.Run(ctx, func(ctx context.Context) error {
		_, err := g.RunOnce(ctx)
		return err
	})
}

// RunOnce scans the symbols and writes at most one signal. Returns true
// when a signal was written.
func (g *Generator) RunOnce(ctx context.Context) (bool, error) {
	count, err := g.positions.OpenPositionCount(ctx)
	if err != nil {
		return false, fmt.Errorf("count open positions: %w", err)
	}
	if count >= g.maxOpen {
		g.logger.Debug().Int("open", count).Msg("open position limit reached; not generating")
		return false, nil
	}

	now := g.now()
	for _, symbol := range g.cfg.Symbols {
		if last, ok := g.lastSignalAt[symbol]; ok && now.Sub(last) < g.cfg.Cooldown {
			continue
		}

		sig, ok, err := g.evaluate(ctx, symbol)
		if err != nil {
			g.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol evaluation failed")
			continue
		}
		if !ok {
			continue
		}

		if err := g.appender.Append(sig); err != nil {
			return false, fmt.Errorf("append signal: %w", err)
		}
		g.lastSignalAt[symbol] = now
		g.logger.Info().Str("signal_id", sig.SignalID).Str("symbol", symbol).Msg("signal written")
		return true, nil
	}
	return false, nil
}

// evaluate applies the entry rule: long when the last close is above its
// moving average with sufficient confidence.
func (g *Generator) evaluate(ctx context.Context, symbol string) (outbox.Signal, bool, error) {
	candles, err := g.data.FetchCandles(ctx, symbol, g.cfg.Timeframe, g.cfg.CandleLimit)
	if err != nil {
		return outbox.Signal{}, false, fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) < g.cfg.MAPeriod {
		return outbox.Signal{}, false, nil
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := closes[len(closes)-1]
	ma := sma(closes, g.cfg.MAPeriod)

	confidence := 0.50
	if last.GreaterThan(ma) {
		confidence = 0.75
	}
	if !last.GreaterThan(ma) || confidence < g.cfg.MinConfidence {
		return outbox.Signal{}, false, nil
	}

	size := decimal.NewFromFloat(g.cfg.QuoteSize).Div(last)
	tpPrice := last.Mul(decimal.NewFromFloat(1 + g.cfg.TPPct))
	slStop := last.Mul(decimal.NewFromFloat(1 - g.cfg.SLPct))
	slLimit := slStop.Mul(decimal.NewFromFloat(1 - g.cfg.SLLimitBufferPct))

	sig := outbox.Signal{
		SignalID:        newSignalID(),
		CreatedAtUTC:    g.now(),
		FinalVerdict:    outbox.VerdictTrade,
		CertifiedSignal: true,
		Execution: outbox.Execution{
			Symbol:       symbol,
			Direction:    "LONG",
			PositionSize: size,
			Entry:        outbox.Entry{Type: "MARKET"},
			Exits: outbox.Exits{
				TP: outbox.TakeProfit{Type: "LIMIT", Price: tpPrice},
				SL: outbox.StopLoss{Type: "STOP_LIMIT", StopPrice: slStop, LimitPrice: slLimit},
			},
		},
		Meta: map[string]any{
			"tf":         g.cfg.Timeframe,
			"last":       last.String(),
			"ma":         ma.String(),
			"confidence": confidence,
		},
	}
	return sig, true, nil
}

func sma(values []decimal.Decimal, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values[len(values)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

func newSignalID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "DYZEN-" + hex[:12]
}
