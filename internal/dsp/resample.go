package dsp

import "math"

// ResamplerQuality selects a windowed-sinc kernel tradeoff between CPU
// cost and passband accuracy. Each tier fixes a sinc length and a
// cutoff relative to Nyquist.
type ResamplerQuality int

const (
	QualityFast ResamplerQuality = iota
	QualityBalanced
	QualityHigh
	QualityUltra
)

type resamplerTierParams struct {
	sincLen int
	cutoff  float64
	beta    float64 // Kaiser beta
}

func tierParams(q ResamplerQuality) resamplerTierParams {
	switch q {
	case QualityFast:
		return resamplerTierParams{sincLen: 64, cutoff: 0.95, beta: 6.0}
	case QualityBalanced:
		return resamplerTierParams{sincLen: 128, cutoff: 0.97, beta: 7.5}
	case QualityHigh:
		return resamplerTierParams{sincLen: 192, cutoff: 0.98, beta: 9.0}
	case QualityUltra:
		return resamplerTierParams{sincLen: 256, cutoff: 1.00, beta: 10.5}
	default:
		return tierParams(QualityBalanced)
	}
}

// besselI0 is the zeroth-order modified Bessel function of the first
// kind, used by the Kaiser window (grounded on the series-expansion
// approach in the pack's resampler example).
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 40; k++ {
		term *= (halfX / float64(k)) * (halfX / float64(k))
		sum += term
		if term < 1e-15*sum {
			break
		}
	}
	return sum
}

func kaiserWindow(length int, beta float64) []float64 {
	w := make([]float64, length)
	if length == 1 {
		w[0] = 1
		return w
	}
	alpha := float64(length-1) / 2
	i0Beta := besselI0(beta)
	for n := 0; n < length; n++ {
		x := (float64(n) - alpha) / alpha
		w[n] = besselI0(beta*math.Sqrt(1-x*x)) / i0Beta
	}
	return w
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1.0
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// buildKernel constructs a windowed-sinc low-pass kernel with the given
// number of taps, cutoff (fraction of Nyquist), and Kaiser beta.
func buildKernel(taps int, cutoff, beta float64) []float64 {
	window := kaiserWindow(taps, beta)
	kernel := make([]float64, taps)
	center := float64(taps-1) / 2
	var sum float64
	for n := 0; n < taps; n++ {
		x := float64(n) - center
		kernel[n] = cutoff * sinc(cutoff*x) * window[n]
		sum += kernel[n]
	}
	if sum != 0 {
		for n := range kernel {
			kernel[n] /= sum
		}
	}
	return kernel
}

// Resampler performs sample-rate conversion on interleaved multi-channel
// float64 audio using a windowed-sinc kernel, driven at a fixed ratio.
// Changing the quality tier requires a Reset; a tier change is a state
// discontinuity.
type Resampler struct {
	quality         ResamplerQuality
	inRate, outRate int
	channels        int
	kernel          []float64
	ratio           float64 // outRate / inRate
	// history holds the tail of previously seen input samples (per
	// channel, planar) needed to continue the sinc convolution across
	// block boundaries without discontinuity.
	history  [][]float64
	position float64 // fractional input-sample read position, carried across calls
}

// NewResampler creates a resampler for the given tier and rate pair. If
// inRate == outRate, Process is a passthrough (no kernel is built).
func NewResampler(quality ResamplerQuality, inRate, outRate, channels int) *Resampler {
	r := &Resampler{quality: quality, inRate: inRate, outRate: outRate, channels: channels}
	if inRate != outRate {
		p := tierParams(quality)
		r.kernel = buildKernel(p.sincLen, p.cutoff*math.Min(1.0, float64(outRate)/float64(inRate)), p.beta)
		r.ratio = float64(outRate) / float64(inRate)
	}
	r.history = make([][]float64, channels)
	for ch := range r.history {
		r.history[ch] = make([]float64, 0, 512)
	}
	return r
}

// IsActive reports whether resampling is applied (rates differ).
func (r *Resampler) IsActive() bool { return r.kernel != nil }

// Process converts interleaved input samples to interleaved output
// samples at the target rate. Passthrough when rates are equal.
func (r *Resampler) Process(interleaved []float64) []float64 {
	if !r.IsActive() {
		return interleaved
	}
	channels := r.channels
	framesIn := len(interleaved) / channels

	planarIn := make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		planarIn[ch] = make([]float64, len(r.history[ch])+framesIn)
		copy(planarIn[ch], r.history[ch])
		for i := 0; i < framesIn; i++ {
			planarIn[ch][len(r.history[ch])+i] = interleaved[i*channels+ch]
		}
	}

	half := len(r.kernel) / 2
	var outputFrames int
	pos := r.position
	for {
		idx := int(pos)
		if idx+half >= len(planarIn[0]) {
			break
		}
		outputFrames++
		pos += 1.0 / r.ratio
	}

	out := make([]float64, outputFrames*channels)
	pos = r.position
	for f := 0; f < outputFrames; f++ {
		idx := int(pos)
		for ch := 0; ch < channels; ch++ {
			var acc float64
			for k, c := range r.kernel {
				sampleIdx := idx + k - half
				if sampleIdx < 0 || sampleIdx >= len(planarIn[ch]) {
					continue
				}
				acc += c * planarIn[ch][sampleIdx]
			}
			out[f*channels+ch] = acc
		}
		pos += 1.0 / r.ratio
	}

	consumedFrames := int(pos)
	r.position = pos - float64(consumedFrames)
	for ch := 0; ch < channels; ch++ {
		if consumedFrames < len(planarIn[ch]) {
			tail := append([]float64{}, planarIn[ch][consumedFrames:]...)
			r.history[ch] = tail
		} else {
			r.history[ch] = r.history[ch][:0]
		}
	}

	return out
}

// Reset clears the resampler's overlap history and fractional position,
// required on a quality-tier change.
func (r *Resampler) Reset() {
	for ch := range r.history {
		r.history[ch] = r.history[ch][:0]
	}
	r.position = 0
}

// Quality returns the active quality tier.
func (r *Resampler) Quality() ResamplerQuality { return r.quality }
