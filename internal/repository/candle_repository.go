package repository

import (
	"context"
	"fmt"
	"slices"

	"selective-alpha/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createCandlesTable = `
CREATE TABLE IF NOT EXISTS candles (
    symbol      TEXT        NOT NULL,
    interval    TEXT        NOT NULL,
    open_time   TIMESTAMPTZ NOT NULL,
    open        NUMERIC     NOT NULL,
    high        NUMERIC     NOT NULL,
    low         NUMERIC     NOT NULL,
    close       NUMERIC     NOT NULL,
    volume      NUMERIC     NOT NULL,
    PRIMARY KEY (symbol, interval, open_time)
);

CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_time
    ON candles (symbol, interval, open_time DESC);

CREATE TABLE IF NOT EXISTS instrument_aux (
    symbol      TEXT             NOT NULL,
    name        TEXT             NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    updated_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, name)
);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CandleRepository stores price bars and the auxiliary per-instrument
// columns published by external feature providers.
type CandleRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCandleRepository(pool PgxPool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

func (r *CandleRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "candle-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createCandlesTable)
	return err
}

func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert-candles")
	defer span.End()
	span.SetAttributes(attribute.Int("candles", len(candles)))

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			c.Symbol, c.Interval, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetCandles returns the most recent limit bars, oldest first.
func (r *CandleRepository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.get-candles")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("interval", interval))

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume
		 FROM candles
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY open_time DESC
		 LIMIT $3`,
		symbol, interval, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.OpenTime = c.OpenTime.UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(candles)
	return candles, nil
}

func (r *CandleRepository) UpsertAux(ctx context.Context, symbol string, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert-aux")
	defer span.End()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(
			`INSERT INTO instrument_aux (symbol, name, value, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (symbol, name) DO UPDATE SET
			     value = EXCLUDED.value,
			     updated_at = EXCLUDED.updated_at`,
			symbol, name, values[name],
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range names {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *CandleRepository) GetAux(ctx context.Context, symbol string) (map[string]float64, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.get-aux")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT name, value FROM instrument_aux WHERE symbol = $1 ORDER BY name`,
		symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out map[string]float64
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[name] = value
	}
	return out, rows.Err()
}

// LoadTables assembles one price table per symbol. Symbols with no stored
// bars are returned with empty candle lists; the pipeline skips them.
func (r *CandleRepository) LoadTables(ctx context.Context, symbols []string, interval string, limit int) ([]domain.PriceTable, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.load-tables")
	defer span.End()

	tables := make([]domain.PriceTable, 0, len(symbols))
	for _, symbol := range symbols {
		candles, err := r.GetCandles(ctx, symbol, interval, limit)
		if err != nil {
			return nil, fmt.Errorf("load candles %s: %w", symbol, err)
		}
		aux, err := r.GetAux(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("load aux %s: %w", symbol, err)
		}
		tables = append(tables, domain.PriceTable{Symbol: symbol, Candles: candles, Aux: aux})
	}
	return tables, nil
}
