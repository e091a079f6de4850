package dsp

import "testing"

func TestResamplerPassthroughWhenRatesEqual(t *testing.T) {
	r := NewResampler(QualityBalanced, 48000, 48000, 2)
	if r.IsActive() {
		t.Error("expected inactive resampler for equal rates")
	}
	input := []float64{0.1, 0.2, 0.3, 0.4}
	out := r.Process(input)
	for i := range input {
		if out[i] != input[i] {
			t.Errorf("passthrough sample[%d] = %v, want %v", i, out[i], input[i])
		}
	}
}

func TestResamplerUpsamplingProducesMoreSamples(t *testing.T) {
	r := NewResampler(QualityFast, 44100, 48000, 2)
	frames := 2048
	input := make([]float64, frames*2)
	for i := 0; i < frames; i++ {
		input[i*2] = 0.1
		input[i*2+1] = 0.1
	}
	out := r.Process(input)
	if len(out) == 0 {
		t.Fatal("expected nonzero output")
	}
	if len(out) <= len(input) {
		t.Errorf("len(out) = %d, want more than the %d input samples", len(out), len(input))
	}
	if !r.IsActive() {
		t.Error("expected active resampler for differing rates")
	}
}

func TestResamplerAllQualityTiersConstructible(t *testing.T) {
	tiers := []ResamplerQuality{QualityFast, QualityBalanced, QualityHigh, QualityUltra}
	for _, q := range tiers {
		r := NewResampler(q, 44100, 48000, 2)
		if r.Quality() != q {
			t.Errorf("Quality() = %v, want %v", r.Quality(), q)
		}
	}
}

func TestResamplerResetClearsHistory(t *testing.T) {
	r := NewResampler(QualityFast, 44100, 48000, 2)
	r.Process(make([]float64, 512))
	r.Reset()
	for _, h := range r.history {
		if len(h) != 0 {
			t.Error("expected history cleared after Reset")
		}
	}
	if r.position != 0 {
		t.Error("expected position reset to 0")
	}
}
