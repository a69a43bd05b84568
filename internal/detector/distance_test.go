package detector

import (
	"math"
	"testing"
)

func TestEstimateDistance_ReferencePoint(t *testing.T) {
	d, ok := EstimateDistance(-50, -50, 3.5)
	if !ok {
		t.Fatalf("expected estimate for reference RSSI")
	}
	if d != 1.0 {
		t.Fatalf("distance at reference RSSI = %v, want 1.0", d)
	}
}

func TestEstimateDistance_Rounding(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		want     float64
	}{
		{
			name:     "stronger than reference",
			observed: -45,
			want:     0.7,
		},
		{
			name:     "weaker than reference",
			observed: -60,
			want:     1.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := EstimateDistance(tt.observed, DefaultReferenceRSSI, DefaultPathLossExponent)
			if !ok {
				t.Fatalf("expected estimate for %v", tt.observed)
			}
			if d != tt.want {
				t.Fatalf("EstimateDistance(%v) = %v, want %v", tt.observed, d, tt.want)
			}
		})
	}
}

func TestEstimateDistance_MonotonicallyDecreasing(t *testing.T) {
	prev := math.Inf(1)
	for rssi := -100.0; rssi <= -20.0; rssi += 5 {
		d, ok := EstimateDistance(rssi, DefaultReferenceRSSI, DefaultPathLossExponent)
		if !ok {
			t.Fatalf("expected estimate for rssi %v", rssi)
		}
		if d > prev {
			t.Fatalf("distance grew with stronger signal: rssi %v gave %v after %v", rssi, d, prev)
		}
		prev = d
	}
}

func TestEstimateDistance_RejectsNonFiniteInputs(t *testing.T) {
	tests := []struct {
		name                         string
		observed, reference, expnent float64
	}{
		{name: "nan observed", observed: math.NaN(), reference: -50, expnent: 3.5},
		{name: "inf observed", observed: math.Inf(1), reference: -50, expnent: 3.5},
		{name: "nan reference", observed: -60, reference: math.NaN(), expnent: 3.5},
		{name: "inf exponent", observed: -60, reference: -50, expnent: math.Inf(-1)},
		{name: "zero exponent", observed: -60, reference: -50, expnent: 0},
		{name: "negative exponent", observed: -60, reference: -50, expnent: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := EstimateDistance(tt.observed, tt.reference, tt.expnent); ok {
				t.Fatalf("expected rejection for %s", tt.name)
			}
		})
	}
}
