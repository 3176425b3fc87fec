package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const fearGreedBaseURL = "https://api.alternative.me"

// AuxFearGreed is the aux column carrying the index scaled to [0, 1].
const AuxFearGreed = "fear_greed"

type FearGreedPoint struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

// FearGreedProvider reads the market-wide crypto Fear & Greed index. The
// same value is broadcast to every instrument as an aux feature.
type FearGreedProvider struct {
	client  *jsonClient
	baseURL string
	tracer  trace.Tracer
}

func NewFearGreedProvider(tracer trace.Tracer) *FearGreedProvider {
	return &FearGreedProvider{
		client:  newJSONClient("fear & greed", 15*time.Second, rate.NewLimiter(rate.Every(time.Second), 1)),
		baseURL: fearGreedBaseURL,
		tracer:  tracer,
	}
}

func (p *FearGreedProvider) FetchLatest(ctx context.Context) (FearGreedPoint, error) {
	ctx, span := p.tracer.Start(ctx, "feargreed.fetch-latest")
	defer span.End()

	var payload struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	url := strings.TrimRight(p.baseURL, "/") + "/fng/?limit=1"
	if err := p.client.getJSON(ctx, url, &payload); err != nil {
		return FearGreedPoint{}, err
	}
	if len(payload.Data) == 0 {
		return FearGreedPoint{}, fmt.Errorf("fear & greed response has no rows")
	}

	row := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil {
		return FearGreedPoint{}, fmt.Errorf("parse fear & greed value: %w", err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row.Timestamp), 10, 64)
	if err != nil {
		return FearGreedPoint{}, fmt.Errorf("parse fear & greed timestamp: %w", err)
	}
	if ts > 1_000_000_000_000 {
		ts = ts / 1000
	}
	return FearGreedPoint{
		Value:          value,
		Classification: row.Classification,
		Timestamp:      time.Unix(ts, 0).UTC(),
	}, nil
}

// FetchAux returns the latest index as aux columns.
func (p *FearGreedProvider) FetchAux(ctx context.Context) (map[string]float64, error) {
	point, err := p.FetchLatest(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]float64{AuxFearGreed: float64(point.Value) / 100}, nil
}
