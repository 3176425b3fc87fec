package provider

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"selective-alpha/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// MaxHourlyDays is the longest market_chart window CoinGecko still serves at
// hourly granularity. Longer windows collapse to one point per day.
const MaxHourlyDays = 90

// CoinGeckoProvider builds OHLCV bars from the CoinGecko market_chart API.
type CoinGeckoProvider struct {
	client  *jsonClient
	baseURL string
	tracer  trace.Tracer
	ids     map[string]string
	now     func() time.Time
}

// NewCoinGeckoProvider maps symbols to CoinGecko coin ids; symbols without a
// mapping use their lowercase form. Requests are limited to 8 per minute.
func NewCoinGeckoProvider(tracer trace.Tracer, ids map[string]string) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:  newJSONClient("coingecko", 30*time.Second, rate.NewLimiter(rate.Every(7500*time.Millisecond), 8)),
		baseURL: coingeckoBaseURL,
		tracer:  tracer,
		ids:     ids,
		now:     time.Now,
	}
}

func (p *CoinGeckoProvider) CoinID(symbol string) string {
	if id, ok := p.ids[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// FetchCandles returns completed bars of the given interval covering the last
// days, oldest first. The bar still in progress is dropped.
func (p *CoinGeckoProvider) FetchCandles(ctx context.Context, symbol, interval string, days int) ([]domain.Candle, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-candles")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("interval", interval))

	if _, ok := domain.IntervalDuration(interval); !ok {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}
	if days <= 0 || days > MaxHourlyDays {
		days = MaxHourlyDays
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d",
		strings.TrimRight(p.baseURL, "/"), p.CoinID(symbol), days)

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := p.client.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch market chart for %s: %w", symbol, err)
	}

	candles := buildCandles(symbol, interval, raw.Prices, raw.TotalVolumes, p.now())
	span.SetAttributes(attribute.Int("candles", len(candles)))
	return candles, nil
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildCandles buckets raw price points into bars. A bar whose window ends
// after cutoff is incomplete and left out.
func buildCandles(symbol, interval string, prices, volumes [][]float64, cutoff time.Time) []domain.Candle {
	step, ok := domain.IntervalDuration(interval)
	if !ok || len(prices) == 0 {
		return nil
	}

	volPoints := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volPoints = append(volPoints, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i][0] < prices[j][0] })

	buckets := make(map[int64]*domain.Candle)
	for _, pt := range prices {
		if len(pt) < 2 || !(pt[1] > 0) {
			continue
		}
		price := pt[1]
		open := time.UnixMilli(int64(pt[0])).UTC().Truncate(step)
		key := open.UnixMilli()

		b, exists := buckets[key]
		if !exists {
			buckets[key] = &domain.Candle{
				Symbol:   symbol,
				Interval: interval,
				OpenTime: open,
				Open:     price,
				High:     price,
				Low:      price,
				Close:    price,
			}
			continue
		}
		b.High = math.Max(b.High, price)
		b.Low = math.Min(b.Low, price)
		b.Close = price
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]domain.Candle, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		if b.OpenTime.Add(step).After(cutoff) {
			continue
		}
		b.Volume = closestVolume(volPoints, k+step.Milliseconds())
		out = append(out, *b)
	}
	return out
}

func closestVolume(volumes []volumePoint, targetMs int64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	closest := volumes[0]
	minDiff := int64(math.MaxInt64)
	for _, v := range volumes {
		diff := v.ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = v
		}
	}
	return closest.vol
}
