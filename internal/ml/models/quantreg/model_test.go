package quantreg

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestTrainRecoversConditionalQuantiles(t *testing.T) {
	samples, targets := uniformNoise(800)

	for _, q := range []float64{0.1, 0.5, 0.9} {
		m, err := Train(samples, targets, q, DefaultTrainOptions())
		if err != nil {
			t.Fatalf("q=%.1f: train failed: %v", q, err)
		}
		// y = x + U(0,1): the q-quantile at x=0 is q.
		if got := m.Predict([]float64{0}); math.Abs(got-q) > 0.15 {
			t.Fatalf("q=%.1f: expected prediction near %.2f, got %.4f", q, q, got)
		}
	}
}

func TestQuantilesAreOrdered(t *testing.T) {
	samples, targets := uniformNoise(600)
	lo, _ := Train(samples, targets, 0.1, DefaultTrainOptions())
	mid, _ := Train(samples, targets, 0.5, DefaultTrainOptions())
	hi, _ := Train(samples, targets, 0.9, DefaultTrainOptions())
	for _, x := range []float64{-0.5, 0, 0.5} {
		a, b, c := lo.Predict([]float64{x}), mid.Predict([]float64{x}), hi.Predict([]float64{x})
		if !(a < b && b < c) {
			t.Fatalf("expected q10 < q50 < q90 at x=%.1f, got %.4f %.4f %.4f", x, a, b, c)
		}
	}
	if mid.Loss(samples, targets) <= 0 {
		t.Fatal("expected positive pinball loss")
	}
}

func TestTrainRejectsBadInput(t *testing.T) {
	if _, err := Train([][]float64{{1}}, []float64{1}, 1.2, DefaultTrainOptions()); err == nil {
		t.Fatal("expected quantile range error")
	}
	if _, err := Train(nil, nil, 0.5, DefaultTrainOptions()); err == nil {
		t.Fatal("expected empty dataset error")
	}
	var m *Model
	if !math.IsNaN(m.Predict([]float64{1})) {
		t.Fatal("nil model must predict NaN")
	}
}

func TestRoundTrip(t *testing.T) {
	samples, targets := uniformNoise(200)
	m, err := Train(samples, targets, 0.5, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	blob, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	restored, err := UnmarshalBinary(blob)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if restored.Predict([]float64{0.2}) != m.Predict([]float64{0.2}) || restored.Quantile() != 0.5 {
		t.Fatal("roundtrip changed the model")
	}
}

func TestPinball(t *testing.T) {
	if Pinball(1, 0.9) != 0.9 || math.Abs(Pinball(-1, 0.9)-0.1) > 1e-12 {
		t.Fatal("unexpected pinball values")
	}
}

func uniformNoise(n int) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(3, 5))
	samples := make([][]float64, n)
	targets := make([]float64, n)
	for i := 0; i < n; i++ {
		x := rng.Float64()*2 - 1
		samples[i] = []float64{x}
		targets[i] = x + rng.Float64()
	}
	return samples, targets
}
