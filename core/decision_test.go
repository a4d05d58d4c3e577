package core

import (
	"testing"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// coverage builds a 10x10 map where the first n pixels have probability hi
// and the rest lo.
func coverage(n int, hi, lo float32) model.CoverageMap {
	cm := model.CoverageMap{Height: 10, Width: 10, Prob: make([]float32, 100)}
	for i := range cm.Prob {
		if i < n {
			cm.Prob[i] = hi
		} else {
			cm.Prob[i] = lo
		}
	}
	return cm
}

func TestDecideUsesBinarizedArea(t *testing.T) {
	fraction, _ := Decide(coverage(30, 0.9, 0.3), DefaultCloudThreshold)
	if fraction != 0.30 {
		t.Fatalf("fraction = %v, want 0.30 (not the mean probability)", fraction)
	}
}

func TestDecideIgnoresProbabilitiesBelowCutoff(t *testing.T) {
	base, _ := Decide(coverage(20, 0.9, 0.0), DefaultCloudThreshold)
	for _, lo := range []float32{0.1, 0.3, 0.49, 0.5} {
		got, _ := Decide(coverage(20, 0.9, lo), DefaultCloudThreshold)
		if got != base {
			t.Fatalf("fraction with background %.2f = %v, want %v", lo, got, base)
		}
	}
}

func TestDecideThresholdBoundary(t *testing.T) {
	cases := []struct {
		name   string
		cloudy int
		want   model.Disposition
	}{
		{"clear", 5, model.Keep},
		{"equal to threshold keeps", 10, model.Keep},
		{"just above threshold", 11, model.Discard},
		{"overcast", 42, model.Discard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, got := Decide(coverage(tc.cloudy, 0.9, 0.1), 0.10)
			if got != tc.want {
				t.Fatalf("Decide(%d%%) = %v, want %v", tc.cloudy, got, tc.want)
			}
		})
	}
}

func TestDecideEmptyMap(t *testing.T) {
	fraction, d := Decide(model.CoverageMap{}, DefaultCloudThreshold)
	if fraction != 0 || d != model.Keep {
		t.Fatalf("Decide(empty) = (%v, %v), want (0, keep)", fraction, d)
	}
}
