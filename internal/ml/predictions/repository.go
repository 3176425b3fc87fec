package predictions

import (
	"context"
	"time"

	"selective-alpha/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DOUBLE PRECISION keeps NaN, so sentinel probabilities round-trip as-is.
const createDecisionsTable = `
CREATE TABLE IF NOT EXISTS decisions (
    id              BIGSERIAL        PRIMARY KEY,
    run_id          TEXT             NOT NULL,
    symbol          TEXT             NOT NULL,
    interval        TEXT             NOT NULL,
    as_of           TIMESTAMPTZ      NOT NULL,
    target_time     TIMESTAMPTZ      NOT NULL,
    as_of_close     DOUBLE PRECISION NOT NULL,
    base_prob       DOUBLE PRECISION NOT NULL,
    meta_prob       DOUBLE PRECISION NOT NULL,
    q10             DOUBLE PRECISION NOT NULL,
    q50             DOUBLE PRECISION NOT NULL,
    q90             DOUBLE PRECISION NOT NULL,
    selected        BOOLEAN          NOT NULL,
    weight          DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    resolved_at     TIMESTAMPTZ,
    realized_return DOUBLE PRECISION,
    UNIQUE (run_id, symbol)
);

CREATE INDEX IF NOT EXISTS idx_decisions_unresolved
    ON decisions (target_time) WHERE resolved_at IS NULL;
`

const selectColumns = `id, run_id, symbol, interval, as_of, target_time, as_of_close,
       base_prob, meta_prob, q10, q50, q90, selected, weight,
       created_at, resolved_at, realized_return`

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository is the decision log: every run's per-instrument gates, later
// joined with what the market actually did.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "decision-log.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createDecisionsTable)
	return err
}

func (r *Repository) InsertDecisions(ctx context.Context, records []domain.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "decision-log.insert")
	defer span.End()
	span.SetAttributes(attribute.Int("decisions", len(records)))

	batch := &pgx.Batch{}
	for _, d := range records {
		batch.Queue(`
INSERT INTO decisions (
    run_id, symbol, interval, as_of, target_time, as_of_close,
    base_prob, meta_prob, q10, q50, q90, selected, weight
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id, symbol) DO NOTHING`,
			d.RunID, d.Symbol, d.Interval, d.AsOf.UTC(), d.TargetTime.UTC(), d.AsOfClose,
			d.BaseProb, d.MetaProb, d.Q10, d.Q50, d.Q90, d.Selected, d.Weight,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListUnresolvedDue returns decisions whose target time has passed, oldest
// target first.
func (r *Repository) ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.DecisionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "decision-log.list-unresolved-due")
	defer span.End()

	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM decisions
WHERE resolved_at IS NULL
  AND target_time <= $1
ORDER BY target_time ASC
LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var d domain.DecisionRecord
		if err := rows.Scan(
			&d.ID, &d.RunID, &d.Symbol, &d.Interval, &d.AsOf, &d.TargetTime, &d.AsOfClose,
			&d.BaseProb, &d.MetaProb, &d.Q10, &d.Q50, &d.Q90, &d.Selected, &d.Weight,
			&d.CreatedAt, &d.ResolvedAt, &d.RealizedReturn,
		); err != nil {
			return nil, err
		}
		d.AsOf = d.AsOf.UTC()
		d.TargetTime = d.TargetTime.UTC()
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) Resolve(ctx context.Context, id int64, realized float64) error {
	ctx, span := r.tracer.Start(ctx, "decision-log.resolve")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
UPDATE decisions
SET resolved_at = NOW(),
    realized_return = $2
WHERE id = $1
  AND resolved_at IS NULL`, id, realized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
