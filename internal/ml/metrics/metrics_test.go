package metrics

import (
	"math"
	"testing"
)

func TestAUC(t *testing.T) {
	cases := []struct {
		name   string
		labels []float64
		probs  []float64
		want   float64
	}{
		{"perfect", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []float64{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"ties", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"single class", []float64{1, 1}, []float64{0.2, 0.9}, 0.5},
		{"mismatch", []float64{1}, nil, 0.5},
	}
	for _, tc := range cases {
		if got := AUC(tc.labels, tc.probs); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s: expected %.3f got %.3f", tc.name, tc.want, got)
		}
	}
}

func TestClassify(t *testing.T) {
	c := Classify([]float64{1, 0, 1, 0}, []float64{0.9, 0.6, 0.4, math.NaN()})
	if c.N != 3 {
		t.Fatalf("expected NaN rows to be skipped, n=%d", c.N)
	}
	if c.Precision != 0.5 || c.Recall != 0.5 {
		t.Fatalf("unexpected precision/recall %+v", c)
	}
	if math.Abs(c.Accuracy-1.0/3) > 1e-12 {
		t.Fatalf("unexpected accuracy %.4f", c.Accuracy)
	}
	if got := c.Map()["n"]; got != 3 {
		t.Fatalf("unexpected map n %v", got)
	}
	if e := Classify(nil, nil); e.AUC != 0.5 || e.N != 0 {
		t.Fatalf("unexpected empty result %+v", e)
	}
}
