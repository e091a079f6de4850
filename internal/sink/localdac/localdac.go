// Package localdac implements the local DAC output sink: a lock-free
// SPSC ring bridges the pipeline writer and the device callback, with
// format fallback, native-rate restart, 50% pre-fill before stream
// start, and silence-on-underrun semantics.
//
// The platform audio binding is abstracted behind Device/DeviceStream;
// an in-memory implementation backs tests and headless operation.
package localdac

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/ring"
	"github.com/aaeq/aaeq-core/internal/sink"
)

// Device is the host audio API surface the sink drives.
type Device interface {
	// Name is the device's display name.
	Name() string

	// SupportsFormat reports whether the device accepts a format.
	SupportsFormat(f audio.SampleFormat) bool

	// SupportsRate reports whether the device accepts a sample rate.
	SupportsRate(rate int) bool

	// NativeRate is the device's preferred sample rate, used when the
	// requested rate is unsupported.
	NativeRate() int

	// BuildStream creates a (not yet started) output stream pulling
	// bytes through the callback. The callback must fill the whole
	// slice; short ring reads are padded with silence by the caller.
	BuildStream(cfg audio.OutputConfig, callback func(out []byte)) (DeviceStream, error)

	// LatencyMs is the device's advertised output latency.
	LatencyMs() int
}

// DeviceStream is a running (or startable) device output stream.
type DeviceStream interface {
	Start() error
	Stop() error
}

// Sink is the local DAC output sink.
type Sink struct {
	log    zerolog.Logger
	device Device

	cfg      audio.OutputConfig
	buffer   *ring.Buffer
	stream   DeviceStream
	ditherer *audio.Ditherer

	open      atomic.Bool
	started   atomic.Bool
	prefilled atomic.Bool

	frames   atomic.Uint64
	xruns    atomic.Uint64
	overruns atomic.Uint64

	convBuf []byte
}

// New creates a sink bound to a device.
func New(device Device, log zerolog.Logger) *Sink {
	return &Sink{log: log, device: device, ditherer: audio.NewDitherer()}
}

// Name implements sink.OutputSink.
func (s *Sink) Name() string { return "local_dac" }

// Open negotiates the device stream. Policy: on F32 rejection fall back
// to S16LE; on rate mismatch restart with the device's native rate and
// let the DSP resampler bridge. The stream itself is not started until
// the ring pre-fills to 50%, preventing the startup click.
func (s *Sink) Open(ctx context.Context, cfg audio.OutputConfig) error {
	if s.open.Load() {
		return fmt.Errorf("local_dac: already open")
	}

	actual := cfg
	if !s.device.SupportsFormat(actual.Format) {
		if actual.Format == audio.FormatF32 && s.device.SupportsFormat(audio.FormatS16LE) {
			s.log.Warn().Msg("local_dac: device rejects F32, falling back to S16LE")
			actual.Format = audio.FormatS16LE
		} else if actual.Format == audio.FormatS16LE && s.device.SupportsFormat(audio.FormatF32) {
			s.log.Warn().Msg("local_dac: device rejects S16LE, falling back to F32")
			actual.Format = audio.FormatF32
		} else {
			return fmt.Errorf("local_dac: device %q supports neither %s nor a fallback",
				s.device.Name(), actual.Format)
		}
	}
	if !s.device.SupportsRate(actual.SampleRate) {
		native := s.device.NativeRate()
		s.log.Warn().Int("requested", actual.SampleRate).Int("native", native).
			Msg("local_dac: rate unsupported, restarting at device native rate")
		actual.SampleRate = native
	}

	s.buffer = ring.NewBuffer(actual.BufferBytes() + 1)

	stream, err := s.device.BuildStream(actual, s.deviceCallback)
	if err != nil {
		return fmt.Errorf("local_dac: build stream: %w", err)
	}

	s.cfg = actual
	s.stream = stream
	s.started.Store(false)
	s.prefilled.Store(false)
	s.open.Store(true)

	s.log.Info().Str("device", s.device.Name()).Int("rate", actual.SampleRate).
		Str("format", actual.Format.String()).Int("buffer_ms", actual.BufferMs).
		Msg("local_dac: opened")
	return nil
}

// deviceCallback runs on the device's real-time thread. It never
// blocks: a short or empty ring read pads with silence and counts an
// xrun. The stream is never paused on underrun.
func (s *Sink) deviceCallback(out []byte) {
	n := s.buffer.Read(out)
	if n < len(out) {
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		if s.started.Load() {
			s.xruns.Add(1)
		}
	}
}

// Write converts a block to the device format and appends it to the
// ring. It never blocks: a full ring drops the write and returns
// ring.ErrBufferFull as backpressure.
func (s *Sink) Write(ctx context.Context, block audio.AudioBlock) error {
	if !s.open.Load() {
		return fmt.Errorf("local_dac: not open")
	}

	s.convBuf = audio.ConvertFormat(block, s.cfg.Format, s.ditherer, s.convBuf[:0])

	if _, err := s.buffer.Write(s.convBuf); err != nil {
		s.overruns.Add(1)
		return err
	}
	s.frames.Add(uint64(block.NumFrames()))

	// Pre-fill gate: the device stream starts only once the ring holds
	// half the configured buffer.
	if !s.prefilled.Load() && s.buffer.FillFraction() >= 0.5 {
		s.prefilled.Store(true)
		if err := s.stream.Start(); err != nil {
			return fmt.Errorf("local_dac: stream start: %w", err)
		}
		s.started.Store(true)
		s.log.Debug().Msg("local_dac: pre-fill reached, stream started")
	}
	return nil
}

// Drain waits until the device has consumed the ring, or the context
// expires.
func (s *Sink) Drain(ctx context.Context) error {
	if !s.open.Load() {
		return nil
	}
	if !s.started.Load() {
		// Stream never started; nothing will consume the ring.
		s.buffer.Reset()
		return nil
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.buffer.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the stream and releases the ring.
func (s *Sink) Close(ctx context.Context) error {
	if !s.open.Load() {
		return nil
	}
	s.open.Store(false)
	if s.started.Load() {
		if err := s.stream.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("local_dac: stream stop failed")
		}
	}
	s.started.Store(false)
	s.stream = nil
	s.buffer.Reset()
	s.log.Info().Msg("local_dac: closed")
	return nil
}

// LatencyMs reports ring fill in milliseconds plus the device's
// advertised latency.
func (s *Sink) LatencyMs() int {
	if !s.open.Load() {
		return 0
	}
	bytesPerMs := s.cfg.SampleRate * s.cfg.Channels * s.cfg.Format.BytesPerSample() / 1000
	if bytesPerMs == 0 {
		return s.device.LatencyMs()
	}
	return s.buffer.Len()/bytesPerMs + s.device.LatencyMs()
}

// IsOpen implements sink.OutputSink.
func (s *Sink) IsOpen() bool { return s.open.Load() }

// Stats implements sink.OutputSink.
func (s *Sink) Stats() sink.Stats {
	st := sink.Stats{
		FramesWritten: s.frames.Load(),
		Underruns:     s.xruns.Load(),
		Overruns:      s.overruns.Load(),
	}
	if s.open.Load() {
		st.BufferFill = s.buffer.FillFraction()
	}
	return st
}

// Xruns returns the lifetime underrun count.
func (s *Sink) Xruns() uint64 { return s.xruns.Load() }

// Capability implements sink.CapabilityProvider.
func (s *Sink) Capability() sink.Capability {
	return sink.Capability{
		Name:              "local_dac",
		SupportedRates:    []int{44100, 48000, 88200, 96000, 176400, 192000},
		SupportedFormats:  []audio.SampleFormat{audio.FormatF32, audio.FormatS16LE},
		FormatNames:       []string{"F32", "S16LE"},
		MinChannels:       1,
		MaxChannels:       8,
		SupportsExclusive: true,
	}
}
