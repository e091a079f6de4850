package dsp

import "testing"

func TestHeadroomDefaultSettings(t *testing.T) {
	h := NewHeadroom()
	if h.HeadroomDB() != -3.0 {
		t.Errorf("HeadroomDB() = %v, want -3.0", h.HeadroomDB())
	}
	if h.ClipCount() != 0 {
		t.Errorf("ClipCount() = %v, want 0", h.ClipCount())
	}
}

func TestHeadroomClamping(t *testing.T) {
	h := NewHeadroom()
	h.SetHeadroomDB(-10)
	if h.HeadroomDB() != -6 {
		t.Errorf("clamp low: got %v, want -6", h.HeadroomDB())
	}
	h.SetHeadroomDB(2)
	if h.HeadroomDB() != 0 {
		t.Errorf("clamp high: got %v, want 0", h.HeadroomDB())
	}
}

func TestHeadroomAppliesGain(t *testing.T) {
	h := NewHeadroom()
	h.SetHeadroomDB(-6)
	samples := []float64{1.0, 0.5, -0.5, -1.0}
	h.Process(samples)

	want := []float64{0.501, 0.250, -0.250, -0.501}
	for i, w := range want {
		if diff := samples[i] - w; diff > 0.001 || diff < -0.001 {
			t.Errorf("sample[%d] = %v, want ~%v", i, samples[i], w)
		}
	}
}

func TestHeadroomClipDetectionAndLimiting(t *testing.T) {
	h := NewHeadroom()
	h.SetHeadroomDB(0)
	samples := []float64{1.5, -1.2}
	h.Process(samples)

	if h.ClipCount() != 2 {
		t.Errorf("ClipCount() = %v, want 2", h.ClipCount())
	}
	if samples[0] != 1.0 || samples[1] != -1.0 {
		t.Errorf("samples not hard-limited: %v", samples)
	}
}

func TestHeadroomClipDetectionDisabled(t *testing.T) {
	h := NewHeadroom()
	h.SetHeadroomDB(0)
	h.SetClipDetection(false)
	samples := []float64{1.5, -1.2}
	h.Process(samples)

	if h.ClipCount() != 0 {
		t.Errorf("ClipCount() = %v, want 0 when detection disabled", h.ClipCount())
	}
	if samples[0] != 1.5 || samples[1] != -1.2 {
		t.Errorf("samples should be unmodified when detection disabled: %v", samples)
	}
}

func TestHeadroomResetClipCount(t *testing.T) {
	h := NewHeadroom()
	h.SetHeadroomDB(0)
	h.Process([]float64{2.0})
	if h.ClipCount() == 0 {
		t.Fatal("expected a clip to be counted")
	}
	h.ResetClipCount()
	if h.ClipCount() != 0 {
		t.Errorf("ClipCount() after reset = %v, want 0", h.ClipCount())
	}
}
