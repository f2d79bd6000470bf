package oco

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dyzen-trader/internal/exchange"
	"dyzen-trader/internal/storage"
)

type resolution struct {
	linkID     int64
	status     string
	closePrice decimal.Decimal
}

type fakeLinkStore struct {
	links       []storage.OcoLink
	hasActive   bool
	resolutions []resolution
	events      []string
}

func (f *fakeLinkStore) LogEvent(ctx context.Context, eventType, message string) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeLinkStore) ListActiveOcoLinks(ctx context.Context, limit int) ([]storage.OcoLink, error) {
	return f.links, nil
}

func (f *fakeLinkStore) HasActiveOcoForSymbol(ctx context.Context, symbol string) (bool, error) {
	return f.hasActive, nil
}

func (f *fakeLinkStore) ResolveOcoLink(ctx context.Context, link storage.OcoLink, status string, closePrice decimal.Decimal) error {
	f.resolutions = append(f.resolutions, resolution{linkID: link.ID, status: status, closePrice: closePrice})
	return nil
}

type fakeAdapter struct {
	orders    map[string]exchange.Order
	fetchErr  map[string]error
	cancelErr error
	cancelled []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{orders: make(map[string]exchange.Order), fetchErr: make(map[string]error)}
}

func (f *fakeAdapter) PlaceMarketOrder(ctx context.Context, symbol, side string, amount decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{}, errors.New("not used")
}

func (f *fakeAdapter) PlaceLimitOrder(ctx context.Context, symbol, side string, amount, price decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{}, errors.New("not used")
}

func (f *fakeAdapter) PlaceStopLimitOrder(ctx context.Context, symbol, side string, amount, stopPrice, limitPrice decimal.Decimal) (exchange.Order, error) {
	return exchange.Order{}, errors.New("not used")
}

func (f *fakeAdapter) FetchOrder(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	if err, ok := f.fetchErr[orderID]; ok {
		return exchange.Order{}, err
	}
	order, ok := f.orders[orderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("%s: %w", orderID, exchange.ErrUnknownOrder)
	}
	return order, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAdapter) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func activeLink() storage.OcoLink {
	return storage.OcoLink{
		ID:          7,
		SignalID:    "DYZEN-abc123def456",
		Symbol:      "BTCUSDT",
		BaseAsset:   "BTC",
		TPOrderID:   "tp-1",
		SLOrderID:   "sl-1",
		TPPrice:     decimal.NewFromInt(105),
		SLStopPrice: decimal.NewFromInt(95),
		Amount:      decimal.NewFromFloat(0.01),
		Status:      storage.OcoActive,
	}
}

func filledAt(ts time.Time) *time.Time { return &ts }

func TestReconcileTPFilledCancelsSibling(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	now := time.Now().UTC()
	adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Symbol: "BTCUSDT", Status: exchange.OrderFilled, FilledAt: filledAt(now), FillPrice: decimal.NewFromInt(105)}
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Symbol: "BTCUSDT", Status: exchange.OrderOpen}

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile 失败: %v", err)
	}

	if len(store.resolutions) != 1 {
		t.Fatalf("应恰好发生一次状态迁移, 实际 %d", len(store.resolutions))
	}
	got := store.resolutions[0]
	if got.status != storage.OcoFilledTP {
		t.Fatalf("应迁移到 FILLED_TP, 实际 %s", got.status)
	}
	if !got.closePrice.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("平仓价应取成交价 105, 实际 %s", got.closePrice)
	}
	if len(adapter.cancelled) != 1 || adapter.cancelled[0] != "sl-1" {
		t.Fatalf("应尽力取消兄弟订单 sl-1, 实际 %v", adapter.cancelled)
	}
}

func TestReconcileSLFilled(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	now := time.Now().UTC()
	adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Symbol: "BTCUSDT", Status: exchange.OrderCanceled}
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Symbol: "BTCUSDT", Status: exchange.OrderFilled, FilledAt: filledAt(now), FillPrice: decimal.NewFromInt(95)}

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile 失败: %v", err)
	}

	if len(store.resolutions) != 1 || store.resolutions[0].status != storage.OcoFilledSL {
		t.Fatalf("应迁移到 FILLED_SL, 实际 %+v", store.resolutions)
	}
	if len(adapter.cancelled) != 0 {
		t.Fatalf("已取消的兄弟订单不应再次取消: %v", adapter.cancelled)
	}
}

func TestReconcileSteadyStateNoTransition(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Status: exchange.OrderOpen}
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Status: exchange.OrderOpen}

	m := NewManager(store, adapter, zerolog.Nop())
	// 背靠背执行两次: 无成交时不应产生任何状态迁移或审计。
	for i := 0; i < 2; i++ {
		if err := m.Reconcile(context.Background()); err != nil {
			t.Fatalf("Reconcile 失败: %v", err)
		}
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("双腿挂单时不应迁移状态: %+v", store.resolutions)
	}
	if len(store.events) != 0 {
		t.Fatalf("稳态不应写审计: %v", store.events)
	}
}

func TestReconcileBothFilledTieBreak(t *testing.T) {
	earlier := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Second)

	cases := []struct {
		name   string
		tpAt   *time.Time
		slAt   *time.Time
		expect string
	}{
		{"sl earlier wins", filledAt(later), filledAt(earlier), storage.OcoFilledSL},
		{"tp earlier wins", filledAt(earlier), filledAt(later), storage.OcoFilledTP},
		{"tie prefers tp", filledAt(earlier), filledAt(earlier), storage.OcoFilledTP},
		{"missing timestamps prefer tp", nil, nil, storage.OcoFilledTP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
			adapter := newFakeAdapter()
			adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Status: exchange.OrderFilled, FilledAt: tc.tpAt, FillPrice: decimal.NewFromInt(105)}
			adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Status: exchange.OrderFilled, FilledAt: tc.slAt, FillPrice: decimal.NewFromInt(95)}

			m := NewManager(store, adapter, zerolog.Nop())
			if err := m.Reconcile(context.Background()); err != nil {
				t.Fatalf("Reconcile 失败: %v", err)
			}
			if len(store.resolutions) != 1 || store.resolutions[0].status != tc.expect {
				t.Fatalf("期望迁移到 %s, 实际 %+v", tc.expect, store.resolutions)
			}
		})
	}
}

func TestReconcileBothCancelled(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Status: exchange.OrderCanceled}
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Status: exchange.OrderCanceled}

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile 失败: %v", err)
	}

	if len(store.resolutions) != 1 || store.resolutions[0].status != storage.OcoCancelled {
		t.Fatalf("双腿外部取消应迁移到 CANCELLED, 实际 %+v", store.resolutions)
	}
}

func TestReconcileFetchErrorLeavesActive(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	adapter.fetchErr["tp-1"] = errors.New("venue timeout")
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Status: exchange.OrderOpen}

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("单链路失败不应中断整轮: %v", err)
	}

	if len(store.resolutions) != 0 {
		t.Fatalf("查询失败时链路应保持 ACTIVE: %+v", store.resolutions)
	}
	found := false
	for _, ev := range store.events {
		if ev == "OCO_RECONCILE_FAIL" {
			found = true
		}
	}
	if !found {
		t.Fatalf("失败应写入审计 OCO_RECONCILE_FAIL, 实际 %v", store.events)
	}
}

func TestReconcileCancelFailureStillResolves(t *testing.T) {
	store := &fakeLinkStore{links: []storage.OcoLink{activeLink()}}
	adapter := newFakeAdapter()
	now := time.Now().UTC()
	adapter.orders["tp-1"] = exchange.Order{ID: "tp-1", Status: exchange.OrderFilled, FilledAt: filledAt(now), FillPrice: decimal.NewFromInt(105)}
	adapter.orders["sl-1"] = exchange.Order{ID: "sl-1", Status: exchange.OrderOpen}
	adapter.cancelErr = errors.New("venue rejected cancel")

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile 失败: %v", err)
	}

	if len(store.resolutions) != 1 || store.resolutions[0].status != storage.OcoFilledTP {
		t.Fatalf("取消失败不应阻止结算, 实际 %+v", store.resolutions)
	}
	found := false
	for _, ev := range store.events {
		if strings.Contains(ev, "OCO_CANCEL_FAIL") {
			found = true
		}
	}
	if !found {
		t.Fatalf("取消失败应写入审计, 实际 %v", store.events)
	}
}

type tickingAdapter struct {
	*fakeAdapter
	ticked []string
}

func (a *tickingAdapter) Tick(ctx context.Context, symbol string, price decimal.Decimal) {
	a.ticked = append(a.ticked, symbol)
}

func TestReconcileTicksLocalVenueOncePerSymbol(t *testing.T) {
	first := activeLink()
	second := activeLink()
	second.ID = 8
	second.TPOrderID = "tp-2"
	second.SLOrderID = "sl-2"

	store := &fakeLinkStore{links: []storage.OcoLink{first, second}}
	adapter := &tickingAdapter{fakeAdapter: newFakeAdapter()}
	for _, id := range []string{"tp-1", "sl-1", "tp-2", "sl-2"} {
		adapter.orders[id] = exchange.Order{ID: id, Status: exchange.OrderOpen}
	}

	m := NewManager(store, adapter, zerolog.Nop())
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile 失败: %v", err)
	}

	if len(adapter.ticked) != 1 || adapter.ticked[0] != "BTCUSDT" {
		t.Fatalf("每个 symbol 应只喂价一次, 实际 %v", adapter.ticked)
	}
}

func TestEnsureSymbolFree(t *testing.T) {
	store := &fakeLinkStore{hasActive: true}
	m := NewManager(store, newFakeAdapter(), zerolog.Nop())

	err := m.EnsureSymbolFree(context.Background(), "BTCUSDT")
	if !IsDuplicateActiveLink(err) {
		t.Fatalf("已有 ACTIVE 链路应返回重复错误, 实际 %v", err)
	}

	store.hasActive = false
	if err := m.EnsureSymbolFree(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("无链路时应放行: %v", err)
	}
}
