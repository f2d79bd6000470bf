package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dyzen-trader/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	SharedState SharedStateConfig `mapstructure:"shared_state"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// WorkerConfig governs the execution coordinator loop.
type WorkerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	OutboxPath   string        `mapstructure:"outbox_path"`
}

// SharedStateConfig locates the snapshot file shared with the policy gate.
type SharedStateConfig struct {
	Path string `mapstructure:"path"`
}

// PolicyConfig locates the policy document read by the gate.
type PolicyConfig struct {
	Path string `mapstructure:"path"`
}

// TradingConfig carries global risk and mode settings.
type TradingConfig struct {
	Mode             string `mapstructure:"mode"`
	KillSwitch       bool   `mapstructure:"kill_switch"`
	MaxOpenPositions int    `mapstructure:"max_open_positions"`
	// EquityBase is the notional against which daily drawdown is expressed.
	EquityBase float64 `mapstructure:"equity_base"`
}

// ExchangeConfig selects and parameterises the exchange adapter.
type ExchangeConfig struct {
	Adapter        string        `mapstructure:"adapter"`
	DataBaseURL    string        `mapstructure:"data_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// GeneratorConfig parameterises the signal source. Recognised keys only,
// resolved once at startup.
type GeneratorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Symbols          []string      `mapstructure:"symbols"`
	Timeframe        string        `mapstructure:"timeframe"`
	CandleLimit      int           `mapstructure:"candle_limit"`
	MAPeriod         int           `mapstructure:"ma_period"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	QuoteSize        float64       `mapstructure:"quote_size"`
	TPPct            float64       `mapstructure:"tp_pct"`
	SLPct            float64       `mapstructure:"sl_pct"`
	SLLimitBufferPct float64       `mapstructure:"sl_limit_buffer_pct"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	Interval         time.Duration `mapstructure:"interval"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DYZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dyzen")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("worker.interval", "10s")
	v.SetDefault("worker.startup_delay", "0s")
	v.SetDefault("worker.outbox_path", "shared/signal_outbox.json")

	v.SetDefault("shared_state.path", "shared/worker_state.json")
	v.SetDefault("policy.path", "shared/policy.json")

	v.SetDefault("trading.mode", "DEMO")
	v.SetDefault("trading.kill_switch", false)
	v.SetDefault("trading.max_open_positions", 1)
	v.SetDefault("trading.equity_base", 1000.0)

	v.SetDefault("exchange.adapter", "paper")
	v.SetDefault("exchange.data_base_url", "https://api.binance.com")
	v.SetDefault("exchange.request_timeout", "10s")

	v.SetDefault("generator.enabled", false)
	v.SetDefault("generator.symbols", []string{"BTCUSDT"})
	v.SetDefault("generator.timeframe", "1m")
	v.SetDefault("generator.candle_limit", 50)
	v.SetDefault("generator.ma_period", 20)
	v.SetDefault("generator.min_confidence", 0.70)
	v.SetDefault("generator.quote_size", 5.0)
	v.SetDefault("generator.tp_pct", 0.03)
	v.SetDefault("generator.sl_pct", 0.015)
	v.SetDefault("generator.sl_limit_buffer_pct", 0.001)
	v.SetDefault("generator.cooldown", "10m")
	v.SetDefault("generator.interval", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Trading.Mode) {
	case "DEMO", "TESTNET", "LIVE":
	default:
		return fmt.Errorf("trading.mode must be DEMO, TESTNET, or LIVE")
	}
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be greater than zero")
	}
	if c.Worker.OutboxPath == "" {
		return fmt.Errorf("worker.outbox_path is required")
	}
	if c.SharedState.Path == "" {
		return fmt.Errorf("shared_state.path is required")
	}
	if c.Trading.MaxOpenPositions <= 0 {
		return fmt.Errorf("trading.max_open_positions must be greater than zero")
	}
	if c.Trading.EquityBase <= 0 {
		return fmt.Errorf("trading.equity_base must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Generator.Enabled {
		if len(c.Generator.Symbols) == 0 {
			return fmt.Errorf("generator.symbols must not be empty")
		}
		if c.Generator.MAPeriod <= 0 {
			return fmt.Errorf("generator.ma_period must be greater than zero")
		}
		if c.Generator.QuoteSize <= 0 {
			return fmt.Errorf("generator.quote_size must be greater than zero")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
