package dsp

import (
	"math"
	"math/rand/v2"
)

// DitherMode selects the noise distribution mixed in before quantization.
type DitherMode int

const (
	DitherNone DitherMode = iota
	DitherRectangular
	DitherTriangular // TPDF
	DitherGaussian
)

// NoiseShaping selects the error-feedback filter applied to the
// quantization error before it is fed back into subsequent samples.
type NoiseShaping int

const (
	ShapeNone NoiseShaping = iota
	ShapeFirstOrder
	ShapeSecondOrder
	ShapeGesemann
)

// gesemannCoeffs are the fixed feedback coefficients for the
// psychoacoustically-weighted Gesemann noise-shaping filter.
var gesemannCoeffs = [4]float64{2.033, -1.165, 0.254, -0.025}

// Dither applies dithering and noise shaping ahead of quantization to a
// target bit depth, maintaining one error-feedback history per channel.
type Dither struct {
	mode      DitherMode
	shaping   NoiseShaping
	bitDepth  int
	channels  int
	rng       *rand.Rand
	errHist   [][4]float64 // per-channel last 4 quantization errors
}

// NewDither creates a dither stage. bitDepth must be in [8, 24].
func NewDither(mode DitherMode, shaping NoiseShaping, bitDepth, channels int) *Dither {
	if bitDepth < 8 {
		bitDepth = 8
	}
	if bitDepth > 24 {
		bitDepth = 24
	}
	return &Dither{
		mode:     mode,
		shaping:  shaping,
		bitDepth: bitDepth,
		channels: channels,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		errHist:  make([][4]float64, channels),
	}
}

func quantizationStep(bitDepth int) float64 {
	return 1.0 / float64(int64(1)<<(bitDepth-1))
}

func (d *Dither) noise(quantum float64) float64 {
	switch d.mode {
	case DitherRectangular:
		return (d.rng.Float64() - 0.5) * quantum
	case DitherTriangular:
		r1 := d.rng.Float64() - 0.5
		r2 := d.rng.Float64() - 0.5
		return (r1 + r2) * quantum
	case DitherGaussian:
		return d.rng.NormFloat64() * quantum * 0.5
	default:
		return 0
	}
}

func (d *Dither) shapedError(ch int) float64 {
	h := d.errHist[ch]
	switch d.shaping {
	case ShapeFirstOrder:
		return h[0]
	case ShapeSecondOrder:
		return 2*h[0] - h[1]
	case ShapeGesemann:
		return gesemannCoeffs[0]*h[0] + gesemannCoeffs[1]*h[1] + gesemannCoeffs[2]*h[2] + gesemannCoeffs[3]*h[3]
	default:
		return 0
	}
}

func (d *Dither) pushError(ch int, err float64) {
	h := &d.errHist[ch]
	h[3] = h[2]
	h[2] = h[1]
	h[1] = h[0]
	h[0] = err
}

// Process dithers and quantizes an interleaved buffer in place to the
// configured bit depth (the quantized value remains represented as a
// float64 in [-1, 1], ready for a downstream ConvertFormat pack at the
// same bit depth).
func (d *Dither) Process(samples []float64) {
	if d.channels == 0 {
		return
	}
	quantum := quantizationStep(d.bitDepth)
	scale := 1.0 / quantum

	for i, s := range samples {
		ch := i % d.channels

		shaped := s + d.shapedError(ch) + d.noise(quantum)
		quantized := math.Round(shaped*scale) / scale

		if d.shaping != ShapeNone {
			d.pushError(ch, shaped-quantized)
		}

		samples[i] = quantized
	}
}

// Reset clears the noise-shaping error history for every channel.
func (d *Dither) Reset() {
	for ch := range d.errHist {
		d.errHist[ch] = [4]float64{}
	}
}
