// Package audio defines the value types that flow through the AAEQ DSP
// pipeline: interleaved float blocks, sample formats, and output device
// configuration.
package audio

import "fmt"

// SampleFormat is a tagged variant of the wire/device sample encoding.
// Each variant has a fixed bytes-per-sample and quantization step.
type SampleFormat int

const (
	FormatF64 SampleFormat = iota
	FormatF32
	FormatS24LE
	FormatS16LE
)

func (f SampleFormat) String() string {
	switch f {
	case FormatF64:
		return "F64"
	case FormatF32:
		return "F32"
	case FormatS24LE:
		return "S24LE"
	case FormatS16LE:
		return "S16LE"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the on-wire/on-disk size of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatF64:
		return 8
	case FormatF32:
		return 4
	case FormatS24LE:
		return 3
	case FormatS16LE:
		return 2
	default:
		return 0
	}
}

// BitDepth returns the quantization bit depth used for dithering purposes.
// Float formats report their full mantissa-equivalent precision is not
// meaningful for dither, so they return 0 (no dither applied).
func (f SampleFormat) BitDepth() int {
	switch f {
	case FormatS24LE:
		return 24
	case FormatS16LE:
		return 16
	default:
		return 0
	}
}

// QuantizationStep returns the size of one quantization step (LSB) in the
// normalized [-1, 1] domain. Float formats have no meaningful step.
func (f SampleFormat) QuantizationStep() float64 {
	bits := f.BitDepth()
	if bits == 0 {
		return 0
	}
	return 1.0 / float64(int64(1)<<(bits-1))
}

// AudioBlock is a view over interleaved 64-bit float frames with an
// associated sample rate and channel count. It never owns the backing
// memory and never outlives its producer.
type AudioBlock struct {
	Frames     []float64
	SampleRate int
	Channels   int
}

// NewAudioBlock constructs a block, panicking if the invariant
// len(frames) % channels == 0 is violated; this indicates a caller bug,
// not a recoverable runtime condition.
func NewAudioBlock(frames []float64, sampleRate, channels int) AudioBlock {
	if channels <= 0 {
		panic("audio: channels must be positive")
	}
	if len(frames)%channels != 0 {
		panic(fmt.Sprintf("audio: frame length %d not a multiple of channels %d", len(frames), channels))
	}
	if sampleRate <= 0 {
		panic("audio: sample_rate must be positive")
	}
	return AudioBlock{Frames: frames, SampleRate: sampleRate, Channels: channels}
}

// NumFrames returns the number of multi-channel frames in the block.
func (b AudioBlock) NumFrames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Frames) / b.Channels
}

// IsValid reports whether the block satisfies its invariants.
func (b AudioBlock) IsValid() bool {
	return b.Channels > 0 && b.SampleRate > 0 && len(b.Frames)%b.Channels == 0
}

// OutputConfig describes the target format for an output sink.
type OutputConfig struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
	BufferMs   int
	Exclusive  bool
}

// DefaultOutputConfig returns a typical stereo 48 kHz configuration.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		SampleRate: 48000,
		Channels:   2,
		Format:     FormatF32,
		BufferMs:   150,
		Exclusive:  false,
	}
}

// IsValid checks the config bounds: buffer_ms in [50, 500], channels
// in {1..8}.
func (c OutputConfig) IsValid() bool {
	if c.BufferMs < 50 || c.BufferMs > 500 {
		return false
	}
	if c.Channels < 1 || c.Channels > 8 {
		return false
	}
	if c.SampleRate <= 0 {
		return false
	}
	return true
}

// BufferFrames returns how many frames fit in BufferMs at SampleRate.
func (c OutputConfig) BufferFrames() int {
	return c.SampleRate * c.BufferMs / 1000
}

// BufferBytes returns the byte size of a ring sized to hold BufferMs of
// audio in this config's format and channel count.
func (c OutputConfig) BufferBytes() int {
	return c.BufferFrames() * c.Channels * c.Format.BytesPerSample()
}
