package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	klinesPath = "/api/v3/klines"
	tickerPath = "/api/v3/ticker/price"
)

// BinanceDataOptions parameterise the public market data client.
type BinanceDataOptions struct {
	BaseURL string
	Timeout time.Duration
}

// BinanceData fetches candles and last prices from Binance public endpoints.
// It carries no credentials; order placement stays behind the Adapter.
type BinanceData struct {
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinanceData constructs a public data client.
func NewBinanceData(opts BinanceDataOptions, logger zerolog.Logger) *BinanceData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &BinanceData{
		logger:  logger.With().Str("component", "binance_data").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCandles retrieves up to limit klines for symbol at the given timeframe.
func (b *BinanceData) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	payload, err := b.get(ctx, klinesPath, params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("kline entry too short: %d fields", len(k))
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("decode kline open time: %w", err)
		}
		candle := Candle{OpenTime: time.UnixMilli(openMs).UTC()}
		fields := []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume}
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(k[i+1], &s); err != nil {
				return nil, fmt.Errorf("decode kline field %d: %w", i+1, err)
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("parse kline field %d: %w", i+1, err)
			}
			*dst = d
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// LastPrice retrieves the latest traded price for symbol.
func (b *BinanceData) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	payload, err := b.get(ctx, tickerPath, params)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(payload, &ticker); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode ticker: %w", err)
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ticker price: %w", err)
	}
	if price.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("ticker returned zero price for %s", symbol)
	}
	return price, nil
}

func (b *BinanceData) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := b.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, payload)
	}
	return payload, nil
}

type apiErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}

var _ MarketData = (*BinanceData)(nil)
