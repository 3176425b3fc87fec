package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

// fastClient swaps the transport and removes waiting from limiter and retries.
func fastClient(c *jsonClient, rt roundTripFunc) {
	c.http = &http.Client{Transport: rt}
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.retry = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }
}

func TestBuildCandlesBucketsAndDropsOpenBar(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := [][]float64{
		{float64(base.Add(2 * time.Hour).UnixMilli()), 12},
		{float64(base.UnixMilli()), 10},
		{float64(base.Add(6 * time.Hour).UnixMilli()), 8},
		{float64(base.Add(23 * time.Hour).UnixMilli()), 9},
		{float64(base.Add(25 * time.Hour).UnixMilli()), 11},
	}
	volumes := [][]float64{
		{float64(base.Add(24 * time.Hour).UnixMilli()), 100},
		{float64(base.Add(48 * time.Hour).UnixMilli()), 200},
	}

	candles := buildCandles("BTC", "1d", prices, volumes, base.Add(30*time.Hour))
	if len(candles) != 1 {
		t.Fatalf("expected 1 completed candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Open != 10 || c.High != 12 || c.Low != 8 || c.Close != 9 {
		t.Fatalf("unexpected candle: %+v", c)
	}
	if c.Volume != 100 || !c.OpenTime.Equal(base) || c.Interval != "1d" {
		t.Fatalf("unexpected candle metadata: %+v", c)
	}

	all := buildCandles("BTC", "1d", prices, volumes, base.Add(72*time.Hour))
	if len(all) != 2 || all[1].Open != 11 {
		t.Fatalf("expected both days once closed, got %+v", all)
	}
}

func TestBuildCandlesRejectsUnknownInterval(t *testing.T) {
	if got := buildCandles("BTC", "5m", [][]float64{{0, 1}}, nil, time.Now()); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestClosestVolume(t *testing.T) {
	volumes := []volumePoint{{ts: 1000, vol: 1}, {ts: 1500, vol: 5}, {ts: 2000, vol: 10}}
	if vol := closestVolume(volumes, 1600); vol != 5 {
		t.Fatalf("expected volume 5, got %f", vol)
	}
	if vol := closestVolume(nil, 1600); vol != 0 {
		t.Fatalf("expected 0 without volumes, got %f", vol)
	}
}

func TestCoinGeckoCoinID(t *testing.T) {
	p := NewCoinGeckoProvider(trace.NewNoopTracerProvider().Tracer("test"), map[string]string{"BTC": "bitcoin"})
	if got := p.CoinID("btc"); got != "bitcoin" {
		t.Fatalf("expected bitcoin, got %s", got)
	}
	if got := p.CoinID("SOLANA"); got != "solana" {
		t.Fatalf("expected lowercase fallback, got %s", got)
	}
}

func TestCoinGeckoFetchCandles(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	p := NewCoinGeckoProvider(trace.NewNoopTracerProvider().Tracer("test"), map[string]string{"BTC": "bitcoin"})
	p.baseURL = "http://example"
	p.now = func() time.Time { return now }
	fastClient(p.client, func(req *http.Request) (*http.Response, error) {
		if !strings.Contains(req.URL.Path, "/coins/bitcoin/market_chart") {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.URL.Query().Get("days") != "90" {
			t.Fatalf("expected days clamped to 90, got %s", req.URL.Query().Get("days"))
		}
		day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		data, _ := json.Marshal(map[string]any{
			"prices": [][]float64{
				{float64(day.UnixMilli()), 10},
				{float64(day.Add(26 * time.Hour).UnixMilli()), 12},
				{float64(now.UnixMilli()), 13},
			},
			"total_volumes": [][]float64{{float64(now.UnixMilli()), 100}},
		})
		return jsonResponse(http.StatusOK, string(data)), nil
	})

	candles, err := p.FetchCandles(context.Background(), "BTC", "1d", 400)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 closed daily candles, got %d", len(candles))
	}
	if candles[0].Symbol != "BTC" || candles[1].Close != 12 {
		t.Fatalf("unexpected candles: %+v", candles)
	}
}

func TestCoinGeckoFetchCandlesUnsupportedInterval(t *testing.T) {
	p := NewCoinGeckoProvider(trace.NewNoopTracerProvider().Tracer("test"), nil)
	if _, err := p.FetchCandles(context.Background(), "BTC", "5m", 1); err == nil {
		t.Fatalf("expected error for unsupported interval")
	}
}

func TestJSONClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newJSONClient("test", time.Second, nil)
	fastClient(c, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return jsonResponse(http.StatusBadGateway, "upstream"), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	})

	var out struct{ OK bool }
	if err := c.getJSON(context.Background(), "http://example/x", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got ok=%v calls=%d", out.OK, calls.Load())
	}
}

func TestJSONClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newJSONClient("test", time.Second, nil)
	fastClient(c, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusNotFound, "no such coin"), nil
	})

	err := c.getJSON(context.Background(), "http://example/x", &struct{}{})
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}
