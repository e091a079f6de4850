package dsp

import "math"

// FilterType selects the biquad topology for an EqBand.
type FilterType int

const (
	FilterPeak FilterType = iota
	FilterLowShelf
	FilterHighShelf
)

// EqBand is one parametric band: frequency, gain, Q, and filter shape.
// Valid ranges: 20 <= f <= 20000, Q > 0, -24 <= gain <= 24.
type EqBand struct {
	FrequencyHz float64
	GainDB      float64
	Q           float64
	Filter      FilterType
}

// IsValid checks the band against its data-model invariants.
func (b EqBand) IsValid() bool {
	return b.FrequencyHz >= 20 && b.FrequencyHz <= 20000 && b.Q > 0 &&
		b.GainDB >= -24 && b.GainDB <= 24
}

// EqPreset is an ordered, bounded sequence of bands with a name and scope.
type EqPreset struct {
	Name    string
	Scope   string // "built-in" or "custom"
	Bands   []EqBand
}

// MaxBands is the maximum number of bands a preset may hold.
const MaxBands = 10

// DefaultEqPreset returns a flat preset over the standard 10-band
// frequency centers.
func DefaultEqPreset() EqPreset {
	freqs := []float64{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}
	bands := make([]EqBand, len(freqs))
	for i, f := range freqs {
		bands[i] = EqBand{FrequencyHz: f, GainDB: 0, Q: 1.0, Filter: FilterPeak}
	}
	return EqPreset{Name: "Flat", Scope: "built-in", Bands: bands}
}

// biquadCoeffs holds the five normalized Direct Form II transposed
// coefficients (a0 is always normalized to 1 and not stored).
type biquadCoeffs struct {
	b0, b1, b2, a1, a2 float64
}

// rbjCoeffs derives RBJ cookbook biquad coefficients for the given band
// at sample rate fs.
func rbjCoeffs(band EqBand, fs float64) biquadCoeffs {
	w0 := 2 * math.Pi * band.FrequencyHz / fs
	alpha := math.Sin(w0) / (2 * band.Q)
	cosW0 := math.Cos(w0)
	A := math.Pow(10, band.GainDB/40.0)

	var b0, b1, b2, a0, a1, a2 float64

	switch band.Filter {
	case FilterLowShelf:
		sqrtA := math.Sqrt(A)
		sq := 2 * sqrtA * alpha
		b0 = A * ((A + 1) - (A-1)*cosW0 + sq)
		b1 = 2 * A * ((A - 1) - (A+1)*cosW0)
		b2 = A * ((A + 1) - (A-1)*cosW0 - sq)
		a0 = (A + 1) + (A-1)*cosW0 + sq
		a1 = -2 * ((A - 1) + (A+1)*cosW0)
		a2 = (A + 1) + (A-1)*cosW0 - sq
	case FilterHighShelf:
		sqrtA := math.Sqrt(A)
		sq := 2 * sqrtA * alpha
		b0 = A * ((A + 1) + (A-1)*cosW0 + sq)
		b1 = -2 * A * ((A - 1) + (A+1)*cosW0)
		b2 = A * ((A + 1) + (A-1)*cosW0 - sq)
		a0 = (A + 1) - (A-1)*cosW0 + sq
		a1 = 2 * ((A - 1) - (A+1)*cosW0)
		a2 = (A + 1) - (A-1)*cosW0 - sq
	default: // FilterPeak
		b0 = 1 + alpha*A
		b1 = -2 * cosW0
		b2 = 1 - alpha*A
		a0 = 1 + alpha/A
		a1 = -2 * cosW0
		a2 = 1 - alpha/A
	}

	return biquadCoeffs{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// BiquadFilter is a Direct Form II transposed biquad section with its own
// per-channel delay (z-buffer) state.
type BiquadFilter struct {
	coeffs biquadCoeffs
	// z1/z2 hold the transposed state, one pair per channel.
	z1, z2 []float64
}

func newBiquadFilter(band EqBand, fs float64, channels int) *BiquadFilter {
	return &BiquadFilter{
		coeffs: rbjCoeffs(band, fs),
		z1:     make([]float64, channels),
		z2:     make([]float64, channels),
	}
}

// processSample runs one sample through the filter for the given channel
// index, updating that channel's delay state.
func (f *BiquadFilter) processSample(ch int, x float64) float64 {
	c := f.coeffs
	y := c.b0*x + f.z1[ch]
	f.z1[ch] = c.b1*x - c.a1*y + f.z2[ch]
	f.z2[ch] = c.b2*x - c.a2*y
	return y
}

func (f *BiquadFilter) reset() {
	for i := range f.z1 {
		f.z1[i] = 0
		f.z2[i] = 0
	}
}

// EqProcessor is a cascade of biquad sections built from an EqPreset. The
// cascade is rebuilt off the audio thread and swapped in atomically via
// Pipeline.SetEqPreset; the previous cascade is discarded on the next block.
type EqProcessor struct {
	sampleRate float64
	channels   int
	stages     []*BiquadFilter
}

// NewEqProcessor creates a processor with the given preset applied.
func NewEqProcessor(sampleRate float64, channels int, preset EqPreset) *EqProcessor {
	p := &EqProcessor{sampleRate: sampleRate, channels: channels}
	p.LoadPreset(preset)
	return p
}

// LoadPreset rebuilds the biquad cascade for the given preset. Coefficient
// computation happens here (intended to run off the real-time thread);
// callers on the audio thread should instead prepare a new *EqProcessor
// and hand it to the pipeline's atomic handle swap.
func (p *EqProcessor) LoadPreset(preset EqPreset) {
	stages := make([]*BiquadFilter, 0, len(preset.Bands))
	for _, band := range preset.Bands {
		stages = append(stages, newBiquadFilter(band, p.sampleRate, p.channels))
	}
	p.stages = stages
}

// Process runs the interleaved buffer through the cascade in place.
func (p *EqProcessor) Process(samples []float64) {
	if p.channels == 0 {
		return
	}
	for i, s := range samples {
		ch := i % p.channels
		for _, stage := range p.stages {
			s = stage.processSample(ch, s)
		}
		samples[i] = s
	}
}

// Reset clears every stage's delay-line state.
func (p *EqProcessor) Reset() {
	for _, stage := range p.stages {
		stage.reset()
	}
}
