package metalabel

import (
	"math"
	"testing"

	"selective-alpha/internal/domain"
	"selective-alpha/internal/ml/models/xgboost"
)

func TestDirection(t *testing.T) {
	cases := map[float64]int{0.9: 1, 0.51: 1, 0.5: -1, 0.1: -1}
	for p, want := range cases {
		if got := Direction(p); got != want {
			t.Fatalf("Direction(%v) = %d, want %d", p, got, want)
		}
	}
	if Direction(math.NaN()) != 0 {
		t.Fatal("NaN probability must have no direction")
	}
}

func TestLabelsTruthTable(t *testing.T) {
	cases := []struct {
		signal, barrier, want int
	}{
		{1, 1, 1},
		{1, -1, 0},
		{1, 0, 0},
		{-1, -1, 1},
		{-1, 1, 0},
		{-1, 0, 0},
		{0, 1, 0},
		{0, -1, 0},
	}
	for _, tc := range cases {
		got := Labels([]int{tc.signal}, []int{tc.barrier})
		if got[0] != tc.want {
			t.Fatalf("signal=%d barrier=%d: expected %d got %d", tc.signal, tc.barrier, tc.want, got[0])
		}
	}
}

func TestLabelsShortSignal(t *testing.T) {
	got := Labels([]int{1}, []int{1, 1, -1})
	if len(got) != 3 || got[0] != 1 || got[1] != 0 || got[2] != 0 {
		t.Fatalf("unexpected labels %v", got)
	}
}

func TestTrainSingleClassIsInsufficient(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	m, outcome := Train(x, []int{0, 0, 0, 0}, []string{"a"}, xgboost.DefaultTrainOptions())
	if m != nil || outcome.Status != domain.FitInsufficientData {
		t.Fatalf("expected insufficient data, got %+v", outcome)
	}
	if !math.IsNaN(m.PredictProb([]float64{1})) {
		t.Fatal("nil model must predict NaN")
	}
}

func TestTrainSeparable(t *testing.T) {
	x := make([][]float64, 0, 200)
	y := make([]int, 0, 200)
	for i := 0; i < 200; i++ {
		v := float64(i%40)/10 - 2
		x = append(x, []float64{v, float64(i % 3)})
		if v > 0 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	m, outcome := Train(x, y, []string{"v", "noise"}, xgboost.DefaultTrainOptions())
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if m.TrainAUC < 0.9 {
		t.Fatalf("expected high train AUC, got %.3f", m.TrainAUC)
	}
	if m.PredictProb([]float64{1.5, 0}) <= m.PredictProb([]float64{-1.5, 0}) {
		t.Fatal("expected confirmed side to score higher")
	}
}
