package audio

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
)

// Ditherer generates TPDF dither noise for quantization. It wraps a fast
// PRNG that can be seeded deterministically for reproducible tests or
// left to seed from runtime entropy.
type Ditherer struct {
	rng *rand.Rand
}

// NewDitherer creates a ditherer seeded from runtime entropy.
func NewDitherer() *Ditherer {
	return &Ditherer{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededDitherer creates a ditherer with a fixed seed for reproducible
// output, e.g. in tests that assert on quantization error bounds.
func NewSeededDitherer(seed uint64) *Ditherer {
	return &Ditherer{rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// TPDF returns one triangular-probability-density-function dither sample
// scaled to the given quantum: the sum of two uniform [-0.5, 0.5) draws.
func (d *Ditherer) TPDF(quantum float64) float64 {
	r1 := d.rng.Float64() - 0.5
	r2 := d.rng.Float64() - 0.5
	return (r1 + r2) * quantum
}

// clamp restricts a float64 to [-1.0, 1.0].
func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// ConvertFormat converts a block of float64 samples to the target wire
// format, writing the packed bytes into dst (which is truncated and
// reused). F64/F32 conversions clamp directly; S24LE/S16LE apply TPDF
// dither before quantization.
func ConvertFormat(block AudioBlock, target SampleFormat, d *Ditherer, dst []byte) []byte {
	dst = dst[:0]

	switch target {
	case FormatF64:
		for _, s := range block.Frames {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(clamp(s)))
			dst = append(dst, buf[:]...)
		}
	case FormatF32:
		for _, s := range block.Frames {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(clamp(s))))
			dst = append(dst, buf[:]...)
		}
	case FormatS24LE:
		quantum := target.QuantizationStep()
		for _, s := range block.Frames {
			dithered := s
			if d != nil {
				dithered += d.TPDF(quantum)
			}
			v := int32(clamp(dithered) * 8388607.0)
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(v))
			dst = append(dst, buf[0], buf[1], buf[2])
		}
	case FormatS16LE:
		quantum := target.QuantizationStep()
		for _, s := range block.Frames {
			dithered := s
			if d != nil {
				dithered += d.TPDF(quantum)
			}
			v := int16(clamp(dithered) * 32767.0)
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], uint16(v))
			dst = append(dst, buf[:]...)
		}
	}

	return dst
}

// ConvertWithGain applies a dB gain before converting to the target format.
func ConvertWithGain(block AudioBlock, target SampleFormat, gainDB float64, d *Ditherer, dst []byte) []byte {
	gainLinear := math.Pow(10, gainDB/20.0)
	gained := make([]float64, len(block.Frames))
	for i, s := range block.Frames {
		gained[i] = s * gainLinear
	}
	gainedBlock := NewAudioBlock(gained, block.SampleRate, block.Channels)
	return ConvertFormat(gainedBlock, target, d, dst)
}

// minDBFS is the floor applied to silence so UI meters don't display -Inf.
const minDBFS = -120.0

// RMSDBFS computes the RMS level of a block in dBFS, clamped to -120 dB
// for display stability.
func RMSDBFS(block AudioBlock) float64 {
	if len(block.Frames) == 0 {
		return minDBFS
	}
	var sumSquares float64
	for _, s := range block.Frames {
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(len(block.Frames)))
	if rms <= 0 {
		return minDBFS
	}
	db := 20.0 * math.Log10(rms)
	if db < minDBFS {
		return minDBFS
	}
	return db
}

// PeakDBFS computes the peak absolute level of a block in dBFS, clamped
// to -120 dB for display stability.
func PeakDBFS(block AudioBlock) float64 {
	var peak float64
	for _, s := range block.Frames {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak <= 0 {
		return minDBFS
	}
	db := 20.0 * math.Log10(peak)
	if db < minDBFS {
		return minDBFS
	}
	return db
}

// SoftLimit applies a tanh soft-clip to samples exceeding thresholdDB,
// writing into dst (truncated and reused).
func SoftLimit(block AudioBlock, thresholdDB float64, dst []float64) []float64 {
	threshold := math.Pow(10, thresholdDB/20.0)
	dst = dst[:0]
	for _, s := range block.Frames {
		if math.Abs(s) > threshold {
			sign := 1.0
			if s < 0 {
				sign = -1.0
			}
			normalized := math.Abs(s) / threshold
			dst = append(dst, sign*threshold*math.Tanh(normalized))
		} else {
			dst = append(dst, s)
		}
	}
	return dst
}
