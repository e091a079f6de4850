package dsp

import (
	"math"
	"testing"
)

func TestEqBandValidity(t *testing.T) {
	valid := EqBand{FrequencyHz: 1000, GainDB: 3, Q: 1.0, Filter: FilterPeak}
	if !valid.IsValid() {
		t.Error("expected valid band to pass IsValid")
	}
	invalid := EqBand{FrequencyHz: 10, GainDB: 3, Q: 1.0}
	if invalid.IsValid() {
		t.Error("expected out-of-range frequency to fail IsValid")
	}
}

func TestDefaultEqPresetFlat(t *testing.T) {
	preset := DefaultEqPreset()
	if len(preset.Bands) != 10 {
		t.Fatalf("len(Bands) = %d, want 10", len(preset.Bands))
	}
	for _, b := range preset.Bands {
		if b.GainDB != 0 {
			t.Errorf("expected flat preset, got gain %v at %v Hz", b.GainDB, b.FrequencyHz)
		}
	}
}

// TestEqProcessorUnityAtZeroGain checks that a 0 dB peaking band leaves a
// steady-state sine roughly unchanged in amplitude.
func TestEqProcessorUnityAtZeroGain(t *testing.T) {
	preset := EqPreset{Bands: []EqBand{{FrequencyHz: 1000, GainDB: 0, Q: 1.0, Filter: FilterPeak}}}
	eq := NewEqProcessor(48000, 1, preset)

	n := 2000
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / 48000)
	}
	eq.Process(samples)

	// Compare RMS of the settled tail (skip filter ring-in) to input RMS.
	var inRMS, outRMS float64
	tailStart := n - 500
	for i := tailStart; i < n; i++ {
		inRMS += math.Sin(2*math.Pi*1000*float64(i)/48000) * math.Sin(2*math.Pi*1000*float64(i)/48000)
		outRMS += samples[i] * samples[i]
	}
	ratio := outRMS / inRMS
	if ratio < 0.9 || ratio > 1.1 {
		t.Errorf("0 dB band changed RMS by ratio %v, want ~1.0", ratio)
	}
}

func TestEqProcessorResetClearsState(t *testing.T) {
	preset := EqPreset{Bands: []EqBand{{FrequencyHz: 1000, GainDB: 6, Q: 1.0, Filter: FilterPeak}}}
	eq := NewEqProcessor(48000, 1, preset)
	eq.Process([]float64{1, 1, 1, 1})
	eq.Reset()
	for _, stage := range eq.stages {
		for _, z := range stage.z1 {
			if z != 0 {
				t.Error("z1 not cleared after Reset")
			}
		}
	}
}

func TestBezierEvaluateAtAnchors(t *testing.T) {
	curve := EqBezier{ControlGainsDB: [4]float64{3, 1, -2, 4}}
	for i, f := range bezierAnchorsHz {
		got := curve.EvaluateDB(f)
		want := curve.ControlGainsDB[i]
		if i == 0 || i == 3 {
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("endpoint anchor %v: got %v, want %v", f, got, want)
			}
		}
	}
}

func TestBezierToBandsThenFitRoundTrips(t *testing.T) {
	curve := EqBezier{ControlGainsDB: [4]float64{2, -1, 3, 0}}
	preset := curve.ToBands(1.0)
	fit := FitBezierToPreset(preset)

	for i, err := range fit.ResidualErrs {
		if err > 0.5 {
			t.Errorf("anchor %d residual error %v exceeds tolerance", i, err)
		}
	}
}
