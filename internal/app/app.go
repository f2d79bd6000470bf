package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/alerting"
	"dyzen-trader/internal/config"
	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/outbox"
	"dyzen-trader/internal/sharedstate"
	"dyzen-trader/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// ConfigPath is propagated to the coordinator subprocess so gate and
	// worker resolve identical settings.
	ConfigPath string
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger, configPath string) *App {
	return &App{
		Config:     cfg,
		Logger:     logger.With().Str("component", "app").Logger(),
		ConfigPath: configPath,
	}
}

func (a *App) mode() string {
	return strings.ToUpper(a.Config.Trading.Mode)
}

// openStore connects the pool and verifies the schema. Initialization
// failure is fatal to every command that persists state.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("initialize store: %w", err)
	}
	return store, store.Close, nil
}

func (a *App) newMarketData() *exchange.BinanceData {
	return exchange.NewBinanceData(exchange.BinanceDataOptions{
		BaseURL: a.Config.Exchange.DataBaseURL,
		Timeout: a.Config.Exchange.RequestTimeout,
	}, a.Logger)
}

func (a *App) newAdapter(data exchange.MarketData) (exchange.Adapter, error) {
	switch strings.ToLower(a.Config.Exchange.Adapter) {
	case "", "paper":
		return exchange.NewPaper(data, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange.adapter %q", a.Config.Exchange.Adapter)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newChannel() *sharedstate.Channel {
	return sharedstate.New(a.Config.SharedState.Path)
}

func (a *App) newOutbox() *outbox.Outbox {
	return outbox.New(a.Config.Worker.OutboxPath)
}

func (a *App) equityBase() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Trading.EquityBase)
}

// ExportOptions hold parameters for exporting realized pnl history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
