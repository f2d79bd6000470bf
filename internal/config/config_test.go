package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: dyzen\n"))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}

	if cfg.Trading.Mode != "DEMO" {
		t.Fatalf("默认模式应为 DEMO, 实际 %s", cfg.Trading.Mode)
	}
	if cfg.Worker.Interval != 10*time.Second {
		t.Fatalf("默认循环间隔应为 10s, 实际 %s", cfg.Worker.Interval)
	}
	if cfg.Worker.OutboxPath == "" || cfg.SharedState.Path == "" || cfg.Policy.Path == "" {
		t.Fatalf("共享文件路径应有默认值: %+v", cfg)
	}
	if cfg.Trading.MaxOpenPositions != 1 {
		t.Fatalf("默认最大持仓应为 1, 实际 %d", cfg.Trading.MaxOpenPositions)
	}
	if cfg.Exchange.Adapter != "paper" {
		t.Fatalf("默认适配器应为 paper, 实际 %s", cfg.Exchange.Adapter)
	}
	if cfg.Generator.Enabled {
		t.Fatal("生成器默认应关闭")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
trading:
  mode: TESTNET
  max_open_positions: 3
  equity_base: 5000
worker:
  interval: 5s
  outbox_path: /tmp/outbox.json
generator:
  enabled: true
  symbols:
    - BTCUSDT
    - ETHUSDT
  ma_period: 30
  quote_size: 25
`))
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}

	if cfg.Trading.Mode != "TESTNET" || cfg.Trading.MaxOpenPositions != 3 {
		t.Fatalf("trading 覆盖未生效: %+v", cfg.Trading)
	}
	if cfg.Worker.Interval != 5*time.Second {
		t.Fatalf("interval 覆盖未生效: %s", cfg.Worker.Interval)
	}
	if len(cfg.Generator.Symbols) != 2 || cfg.Generator.MAPeriod != 30 {
		t.Fatalf("generator 覆盖未生效: %+v", cfg.Generator)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	if _, err := Load(writeConfig(t, "trading:\n  mode: SANDBOX\n")); err == nil {
		t.Fatal("非法模式应被拒绝")
	}
}

func TestLoadRejectsEnabledGeneratorWithoutSymbols(t *testing.T) {
	_, err := Load(writeConfig(t, `
generator:
  enabled: true
  symbols: []
`))
	if err == nil {
		t.Fatal("启用生成器但无 symbols 应被拒绝")
	}
}

func TestLoadRejectsTelegramWithoutToken(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  telegram:
    enabled: true
    chat_id: "123"
`))
	if err == nil {
		t.Fatal("启用 Telegram 但缺少 bot_token 应被拒绝")
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	if _, err := Load(writeConfig(t, "trading:\n  max_open_positions: 0\n")); err == nil {
		t.Fatal("max_open_positions=0 应被拒绝")
	}
	if _, err := Load(writeConfig(t, "trading:\n  equity_base: -1\n")); err == nil {
		t.Fatal("负的 equity_base 应被拒绝")
	}
	if _, err := Load(writeConfig(t, "worker:\n  interval: 0s\n")); err == nil {
		t.Fatal("interval=0 应被拒绝")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("无覆盖时应取配置值, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(42); got != 42 {
		t.Fatalf("CLI 覆盖应优先, 实际 %d", got)
	}
}
