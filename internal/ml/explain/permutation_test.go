package explain

import (
	"testing"

	"selective-alpha/internal/ml/metrics"
)

type firstColumn struct{}

func (firstColumn) PredictProb(x []float64) float64 { return metrics.Clamp01(0.5 + x[0]) }

type panicky struct{}

func (panicky) PredictProb([]float64) float64 { panic("boom") }

func dataset() ([][]float64, []float64) {
	x := make([][]float64, 200)
	y := make([]float64, 200)
	for i := range x {
		v := float64(i%20)/40 - 0.25
		x[i] = []float64{v, float64(i % 7)}
		if v > 0 {
			y[i] = 1
		}
	}
	return x, y
}

func TestPermutationImportanceRanksSignal(t *testing.T) {
	x, y := dataset()
	out, err := PermutationImportance(firstColumn{}, x, y, []string{"signal", "noise"}, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].Feature != "signal" {
		t.Fatalf("expected signal first, got %+v", out)
	}
	if out[0].AUCDrop < 0.2 || out[1].AUCDrop != 0 {
		t.Fatalf("unexpected drops %+v", out)
	}

	again, _ := PermutationImportance(firstColumn{}, x, y, []string{"signal", "noise"}, DefaultOptions())
	if again[0].AUCDrop != out[0].AUCDrop {
		t.Fatal("expected a fixed seed to be reproducible")
	}
}

func TestPermutationImportanceCatchesPanics(t *testing.T) {
	x, y := dataset()
	out, err := PermutationImportance(panicky{}, x, y, nil, DefaultOptions())
	if err == nil || out != nil {
		t.Fatalf("expected an absent result, got %+v %v", out, err)
	}
}
