package registry

import (
	"context"
	"errors"
	"fmt"

	"selective-alpha/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidVersion rejects artifacts missing a key or payload.
var ErrInvalidVersion = errors.New("invalid model version payload")

const createModelVersionsTable = `
CREATE TABLE IF NOT EXISTS model_versions (
    id                   BIGSERIAL   PRIMARY KEY,
    run_id               TEXT        NOT NULL,
    model_key            TEXT        NOT NULL,
    version              INTEGER     NOT NULL,
    feature_spec_version TEXT        NOT NULL,
    feature_names        TEXT[]      NOT NULL,
    trained_from         TIMESTAMPTZ NOT NULL,
    trained_to           TIMESTAMPTZ NOT NULL,
    metrics_json         JSONB       NOT NULL DEFAULT '{}'::jsonb,
    artifact_format      TEXT        NOT NULL,
    artifact_blob        BYTEA       NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (model_key, version)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_run ON model_versions (run_id);
`

const selectColumns = `id, run_id, model_key, version, feature_spec_version, feature_names,
       trained_from, trained_to, metrics_json, artifact_format, artifact_blob, created_at`

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pool interface {
	queryer
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository versions the model artifacts every pipeline run produces.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "model-registry.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createModelVersionsTable)
	return err
}

func (r *Repository) NextVersion(ctx context.Context, modelKey string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "model-registry.next-version")
	defer span.End()

	return nextVersion(ctx, r.pool, modelKey)
}

// SaveRun stores every artifact of one run atomically, assigning each model
// key its next version number.
func (r *Repository) SaveRun(ctx context.Context, models []domain.ModelVersion) ([]domain.ModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "model-registry.save-run")
	defer span.End()
	span.SetAttributes(attribute.Int("models", len(models)))

	if len(models) == 0 {
		return nil, nil
	}
	for _, m := range models {
		if err := validate(m); err != nil {
			return nil, err
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]domain.ModelVersion, 0, len(models))
	for _, m := range models {
		version, err := nextVersion(ctx, tx, m.ModelKey)
		if err != nil {
			return nil, fmt.Errorf("next version %s: %w", m.ModelKey, err)
		}
		m.Version = version
		saved, err := insert(ctx, tx, m)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", m.ModelKey, err)
		}
		out = append(out, *saved)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLatestModel returns nil without error when no version exists.
func (r *Repository) GetLatestModel(ctx context.Context, modelKey string) (*domain.ModelVersion, error) {
	ctx, span := r.tracer.Start(ctx, "model-registry.get-latest")
	defer span.End()

	var out domain.ModelVersion
	err := scan(r.pool.QueryRow(ctx, `
SELECT `+selectColumns+`
FROM model_versions
WHERE model_key = $1
ORDER BY version DESC
LIMIT 1`, modelKey), &out)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func validate(m domain.ModelVersion) error {
	if m.ModelKey == "" || m.RunID == "" || len(m.ArtifactBlob) == 0 {
		return fmt.Errorf("%w: key=%q run=%q blob=%d", ErrInvalidVersion, m.ModelKey, m.RunID, len(m.ArtifactBlob))
	}
	return nil
}

func nextVersion(ctx context.Context, q queryer, modelKey string) (int, error) {
	var version int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE model_key = $1`, modelKey).Scan(&version)
	return version, err
}

func insert(ctx context.Context, q queryer, m domain.ModelVersion) (*domain.ModelVersion, error) {
	var out domain.ModelVersion
	err := scan(q.QueryRow(ctx, `
INSERT INTO model_versions (
    run_id, model_key, version, feature_spec_version, feature_names,
    trained_from, trained_to, metrics_json, artifact_format, artifact_blob
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+selectColumns,
		m.RunID,
		m.ModelKey,
		m.Version,
		m.FeatureSpecVersion,
		m.FeatureNames,
		m.TrainedFrom.UTC(),
		m.TrainedTo.UTC(),
		fallbackJSON(m.MetricsJSON),
		m.ArtifactFormat,
		m.ArtifactBlob,
	), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func scan(row pgx.Row, out *domain.ModelVersion) error {
	err := row.Scan(
		&out.ID,
		&out.RunID,
		&out.ModelKey,
		&out.Version,
		&out.FeatureSpecVersion,
		&out.FeatureNames,
		&out.TrainedFrom,
		&out.TrainedTo,
		&out.MetricsJSON,
		&out.ArtifactFormat,
		&out.ArtifactBlob,
		&out.CreatedAt,
	)
	if err != nil {
		return err
	}
	out.TrainedFrom = out.TrainedFrom.UTC()
	out.TrainedTo = out.TrainedTo.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	return nil
}

func fallbackJSON(v string) string {
	if v == "" {
		return "{}"
	}
	return v
}
