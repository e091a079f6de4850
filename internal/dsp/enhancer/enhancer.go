// Package enhancer implements the optional post-EQ effect rack behind
// the per-profile enhancer enable flags. Each stage is independently
// bypassable and appended after Dither/Shape in the fixed pipeline
// order; none of them alter the mandatory
// Headroom, EQ, Resample, Dither, Convert sequence.
package enhancer

import "math"

// Compressor applies RMS-detected hard-knee gain reduction above a
// threshold, grounded on the "gentle bus compression" preset shape.
type Compressor struct {
	Enabled     bool
	ThresholdDB float64
	Ratio       float64

	envelope     float64
	attackCoeff  float64
	releaseCoeff float64
}

// NewCompressor returns a compressor with the gentle-bus-compression
// preset: -12 dB threshold, 3:1 ratio, per-sample attack and release
// coefficients 0.95 and 0.9999 (time constants of about 0.4 ms and
// 208 ms at 48 kHz).
func NewCompressor() *Compressor {
	return &Compressor{
		ThresholdDB:  -12.0,
		Ratio:        3.0,
		attackCoeff:  0.95,
		releaseCoeff: 0.9999,
	}
}

func (c *Compressor) processSample(x float64) float64 {
	absX := math.Abs(x)
	squared := absX * absX
	if squared > c.envelope {
		c.envelope = c.attackCoeff*c.envelope + (1-c.attackCoeff)*squared
	} else {
		c.envelope = c.releaseCoeff*c.envelope + (1-c.releaseCoeff)*squared
	}

	rms := math.Sqrt(c.envelope)
	levelDB := -120.0
	if rms > 1e-6 {
		levelDB = 20.0 * math.Log10(rms)
	}

	gainDB := 0.0
	if levelDB > c.ThresholdDB {
		overThreshold := levelDB - c.ThresholdDB
		gainDB = -overThreshold * (1.0 - 1.0/c.Ratio)
	}

	gain := math.Pow(10, gainDB/20.0)
	return x * gain
}

// Process applies compression in place when enabled.
func (c *Compressor) Process(buf []float64) {
	if !c.Enabled {
		return
	}
	for i, s := range buf {
		buf[i] = c.processSample(s)
	}
}

// Reset clears the envelope follower's state.
func (c *Compressor) Reset() { c.envelope = 0 }

// Limiter is a short look-ahead peak limiter preventing output clipping.
type Limiter struct {
	Enabled      bool
	Threshold    float64
	Ceiling      float64
	envelope     float64
	releaseCoeff float64
	delayBuf     []float64
	delayIdx     int
}

// NewLimiter returns a limiter with a 1 ms look-ahead at 48 kHz and fast
// release for transparency.
func NewLimiter() *Limiter {
	const lookAheadSamples = 48
	return &Limiter{
		Threshold:    0.95,
		Ceiling:      1.0,
		envelope:     1.0,
		releaseCoeff: 0.9995,
		delayBuf:     make([]float64, lookAheadSamples),
	}
}

func (l *Limiter) processSample(x float64) float64 {
	l.delayBuf[l.delayIdx] = x
	l.delayIdx = (l.delayIdx + 1) % len(l.delayBuf)
	delayed := l.delayBuf[l.delayIdx]

	absX := math.Abs(x)
	targetGain := 1.0
	if absX > l.Threshold {
		targetGain = l.Threshold / absX
	}
	if targetGain < l.envelope {
		l.envelope = targetGain
	} else {
		l.envelope = l.releaseCoeff*l.envelope + (1-l.releaseCoeff)*targetGain
	}

	out := delayed * l.envelope
	if out > l.Ceiling {
		out = l.Ceiling
	} else if out < -l.Ceiling {
		out = -l.Ceiling
	}
	return out
}

// Process applies limiting in place when enabled.
func (l *Limiter) Process(buf []float64) {
	if !l.Enabled {
		return
	}
	for i, s := range buf {
		buf[i] = l.processSample(s)
	}
}

// Reset clears the limiter's envelope and look-ahead delay line.
func (l *Limiter) Reset() {
	l.envelope = 1.0
	for i := range l.delayBuf {
		l.delayBuf[i] = 0
	}
	l.delayIdx = 0
}

// StereoWidth widens or narrows the stereo image via Mid/Side processing.
type StereoWidth struct {
	Enabled bool
	Width   float64 // 0.0 = mono, 1.0 = normal, 2.0 = wide
}

// NewStereoWidth returns a moderately-widened default (1.5).
func NewStereoWidth() *StereoWidth {
	return &StereoWidth{Width: 1.5}
}

// ProcessStereo applies Mid/Side widening to an interleaved [L, R, L, R,
// ...] buffer. Mono buffers are left untouched by ProcessMono.
func (s *StereoWidth) ProcessStereo(buf []float64) {
	if !s.Enabled {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		left, right := buf[i], buf[i+1]
		mid := (left + right) * 0.5
		side := (left - right) * 0.5 * s.Width
		buf[i] = mid + side
		buf[i+1] = mid - side
	}
}

// Reset has no state to clear.
func (s *StereoWidth) Reset() {}

// TapeSaturation emulates analog tape hysteresis via asymmetric tanh
// saturation with a slow-moving DC bias tracker.
type TapeSaturation struct {
	Enabled       bool
	Drive         float64
	dcBias        float64
	dcFilterCoeff float64
}

// NewTapeSaturation returns a moderate-saturation default.
func NewTapeSaturation() *TapeSaturation {
	return &TapeSaturation{Drive: 1.5, dcFilterCoeff: 0.9995}
}

func (ts *TapeSaturation) processSample(x float64) float64 {
	ts.dcBias = ts.dcFilterCoeff*ts.dcBias + (1-ts.dcFilterCoeff)*x
	biased := x - ts.dcBias*0.1
	saturated := math.Tanh(ts.Drive * biased)
	return saturated / ts.Drive
}

// Process applies tape saturation in place when enabled.
func (ts *TapeSaturation) Process(buf []float64) {
	if !ts.Enabled {
		return
	}
	for i, s := range buf {
		buf[i] = ts.processSample(s)
	}
}

// Reset clears the DC bias tracker.
func (ts *TapeSaturation) Reset() { ts.dcBias = 0 }

// Rack bundles the four supplemented stages in the fixed order they are
// appended after Dither/Shape: Compressor → Limiter → StereoWidth →
// TapeSaturation.
type Rack struct {
	Compressor     *Compressor
	Limiter        *Limiter
	StereoWidth    *StereoWidth
	TapeSaturation *TapeSaturation
}

// NewRack returns a rack with every stage constructed but disabled.
func NewRack() *Rack {
	return &Rack{
		Compressor:     NewCompressor(),
		Limiter:        NewLimiter(),
		StereoWidth:    NewStereoWidth(),
		TapeSaturation: NewTapeSaturation(),
	}
}

// Process runs the interleaved stereo buffer through every enabled stage
// in rack order.
func (r *Rack) Process(buf []float64) {
	r.Compressor.Process(buf)
	r.Limiter.Process(buf)
	r.StereoWidth.ProcessStereo(buf)
	r.TapeSaturation.Process(buf)
}

// Reset clears every stage's internal state.
func (r *Rack) Reset() {
	r.Compressor.Reset()
	r.Limiter.Reset()
	r.StereoWidth.Reset()
	r.TapeSaturation.Reset()
}
