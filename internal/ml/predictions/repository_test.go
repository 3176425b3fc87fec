package predictions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"selective-alpha/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type fakeRows struct {
	pgx.Rows
	data []domain.DecisionRecord
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	d := r.data[r.pos-1]
	if len(dest) != 17 {
		return errors.New("unexpected column count")
	}
	*dest[0].(*int64) = d.ID
	*dest[1].(*string) = d.RunID
	*dest[2].(*string) = d.Symbol
	*dest[3].(*string) = d.Interval
	*dest[4].(*time.Time) = d.AsOf
	*dest[5].(*time.Time) = d.TargetTime
	*dest[6].(*float64) = d.AsOfClose
	*dest[7].(*float64) = d.BaseProb
	*dest[8].(*float64) = d.MetaProb
	*dest[9].(*float64) = d.Q10
	*dest[10].(*float64) = d.Q50
	*dest[11].(*float64) = d.Q90
	*dest[12].(*bool) = d.Selected
	*dest[13].(*float64) = d.Weight
	*dest[14].(*time.Time) = d.CreatedAt
	*dest[15].(**time.Time) = d.ResolvedAt
	*dest[16].(**float64) = d.RealizedReturn
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

type fakeBatch struct {
	pgx.BatchResults
}

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) { return pgconn.NewCommandTag("INSERT 0 1"), nil }
func (b *fakeBatch) Close() error                     { return nil }

type fakePool struct {
	rows     []domain.DecisionRecord
	queries  []string
	args     [][]any
	batches  []*pgx.Batch
	affected int64
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.queries = append(p.queries, sql)
	p.args = append(p.args, args)
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", p.affected)), nil
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, sql)
	p.args = append(p.args, args)
	return &fakeRows{data: p.rows}, nil
}

func (p *fakePool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	p.batches = append(p.batches, b)
	return &fakeBatch{}
}

func newTestRepo(p *fakePool) *Repository {
	return NewRepository(p, trace.NewNoopTracerProvider().Tracer("test"))
}

func TestInsertDecisionsBatches(t *testing.T) {
	p := &fakePool{}
	repo := newTestRepo(p)
	recs := []domain.DecisionRecord{
		{RunID: "r", Symbol: "AAA", MetaProb: math.NaN()},
		{RunID: "r", Symbol: "BBB", Selected: true, Weight: 0.2},
	}
	if err := repo.InsertDecisions(context.Background(), recs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.batches) != 1 || p.batches[0].Len() != 2 {
		t.Fatalf("expected one batch of 2")
	}
	if err := repo.InsertDecisions(context.Background(), nil); err != nil || len(p.batches) != 1 {
		t.Fatalf("empty insert should be a no-op")
	}
}

func TestListUnresolvedDue(t *testing.T) {
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePool{rows: []domain.DecisionRecord{
		{ID: 1, RunID: "r", Symbol: "AAA", AsOf: asOf, TargetTime: asOf.AddDate(0, 0, 5), AsOfClose: 100, Selected: true},
	}}
	got, err := newTestRepo(p).ListUnresolvedDue(context.Background(), asOf.AddDate(0, 0, 10), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "AAA" || got[0].ResolvedAt != nil {
		t.Fatalf("unexpected records %+v", got)
	}
	if !strings.Contains(p.queries[0], "resolved_at IS NULL") || p.args[0][1] != 200 {
		t.Fatalf("expected default limit 200 on an unresolved query, got %v", p.args[0])
	}
}

func TestResolve(t *testing.T) {
	p := &fakePool{affected: 1}
	repo := newTestRepo(p)
	if err := repo.Resolve(context.Background(), 7, 0.03); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.args[0][0] != int64(7) || p.args[0][1] != 0.03 {
		t.Fatalf("unexpected args %v", p.args[0])
	}

	p.affected = 0
	if err := repo.Resolve(context.Background(), 7, 0.03); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for an already resolved decision, got %v", err)
	}
}
