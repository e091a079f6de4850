package dsp

import "math"

// bezierAnchorsHz are the four anchor frequencies a custom EQ curve is
// fit against: 62 Hz, 250 Hz, 2 kHz, 8 kHz.
var bezierAnchorsHz = [4]float64{62, 250, 2000, 8000}

// EqBezier is a 4-control-point cubic Bezier curve over log frequency,
// used as an alternate representation of a custom EQ curve to the band
// cascade. ControlGainsDB are the four control values (dB): the curve
// equals the first at the 62 Hz anchor and the last at the 8 kHz anchor;
// the inner two shape the curve but are not passed through.
type EqBezier struct {
	ControlGainsDB [4]float64
}

// cubicBezier evaluates a scalar cubic Bezier curve with control values p
// at parameter t in [0, 1].
func cubicBezier(p [4]float64, t float64) float64 {
	u := 1 - t
	return u*u*u*p[0] + 3*u*u*t*p[1] + 3*u*t*t*p[2] + t*t*t*p[3]
}

// freqToT maps a frequency to a log-normalized t for Bezier evaluation:
// the first anchor (62 Hz) maps to 0 and the last (8 kHz) to 1, so the
// curve meets its first and last control values there. Frequencies
// outside the anchor span are clamped to [0, 1].
func freqToT(freqHz float64) float64 {
	logMin := math.Log10(bezierAnchorsHz[0])
	logMax := math.Log10(bezierAnchorsHz[3])
	t := (math.Log10(freqHz) - logMin) / (logMax - logMin)
	return math.Max(0, math.Min(1, t))
}

// EvaluateDB returns the curve's gain in dB at the given frequency.
func (c EqBezier) EvaluateDB(freqHz float64) float64 {
	return cubicBezier(c.ControlGainsDB, freqToT(freqHz))
}

// ToBands samples the curve at the standard band frequencies and
// returns an equivalent band-based EqPreset with a constant Q.
func (c EqBezier) ToBands(q float64) EqPreset {
	freqs := []float64{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}
	bands := make([]EqBand, len(freqs))
	for i, f := range freqs {
		bands[i] = EqBand{FrequencyHz: f, GainDB: c.EvaluateDB(f), Q: q, Filter: FilterPeak}
	}
	return EqPreset{Name: "bezier-fit", Scope: "custom", Bands: bands}
}

// BezierFit fits a 4-control-point cubic Bezier to a band-based preset by
// reading the preset's gain at each of the four anchor frequencies
// (interpolating when a band isn't present at the exact anchor) and
// reports the residual error at each anchor.
type BezierFit struct {
	Curve        EqBezier
	ResidualErrs [4]float64
}

// FitBezierToPreset derives a Bezier curve whose four control points equal
// the preset's effective gain at each anchor, then reports the residual
// error between the curve's evaluated value and the interpolated preset
// gain at each anchor. The residual is zero at the two end anchors, where
// the curve meets its first and last control values, and generally
// nonzero at the two inner anchors, which a cubic Bezier does not pass
// through.
func FitBezierToPreset(preset EqPreset) BezierFit {
	var fit BezierFit
	for i, f := range bezierAnchorsHz {
		gain := interpolatedGainAt(preset, f)
		fit.Curve.ControlGainsDB[i] = gain
	}
	for i, f := range bezierAnchorsHz {
		want := interpolatedGainAt(preset, f)
		got := fit.Curve.EvaluateDB(f)
		fit.ResidualErrs[i] = math.Abs(got - want)
	}
	return fit
}

// interpolatedGainAt linearly interpolates a preset's per-band gain over
// log frequency to estimate the effective gain at an arbitrary frequency.
func interpolatedGainAt(preset EqPreset, freqHz float64) float64 {
	if len(preset.Bands) == 0 {
		return 0
	}
	if freqHz <= preset.Bands[0].FrequencyHz {
		return preset.Bands[0].GainDB
	}
	last := preset.Bands[len(preset.Bands)-1]
	if freqHz >= last.FrequencyHz {
		return last.GainDB
	}
	for i := 0; i < len(preset.Bands)-1; i++ {
		a, b := preset.Bands[i], preset.Bands[i+1]
		if freqHz >= a.FrequencyHz && freqHz <= b.FrequencyHz {
			logA, logB, logF := math.Log10(a.FrequencyHz), math.Log10(b.FrequencyHz), math.Log10(freqHz)
			if logB == logA {
				return a.GainDB
			}
			t := (logF - logA) / (logB - logA)
			return a.GainDB + t*(b.GainDB-a.GainDB)
		}
	}
	return 0
}
