package dsp

import "testing"

func TestDitherNoneLeavesSamplesQuantizedOnly(t *testing.T) {
	d := NewDither(DitherNone, ShapeNone, 16, 1)
	samples := []float64{0.333333}
	d.Process(samples)
	// Should be quantized to the 16-bit grid without added noise.
	step := quantizationStep(16)
	remainder := samples[0] / step
	if diff := remainder - float64(int64(remainder)); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sample %v not on 16-bit quantization grid", samples[0])
	}
}

func TestDitherShapingAccumulatesErrorHistory(t *testing.T) {
	d := NewDither(DitherTriangular, ShapeFirstOrder, 16, 2)
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = 0.01
	}
	d.Process(samples)

	hasNonZero := false
	for _, h := range d.errHist {
		if h[0] != 0 {
			hasNonZero = true
		}
	}
	if !hasNonZero {
		t.Error("expected nonzero error history after shaped dithering")
	}
}

func TestDitherResetClearsHistory(t *testing.T) {
	d := NewDither(DitherTriangular, ShapeGesemann, 16, 1)
	d.Process([]float64{0.5, 0.5, 0.5, 0.5})
	d.Reset()
	for _, h := range d.errHist {
		if h != [4]float64{} {
			t.Error("expected error history cleared after Reset")
		}
	}
}
