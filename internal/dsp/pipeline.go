package dsp

import (
	"sync"
	"sync/atomic"

	"github.com/aaeq/aaeq-core/internal/audio"
	"github.com/aaeq/aaeq-core/internal/dsp/enhancer"
	"github.com/rs/zerolog"
)

// StageStatus is the lightweight per-stage snapshot exported for UI and
// telemetry consumption.
type StageStatus struct {
	Enabled        bool
	Bypassed       bool
	LatencySamples int
	ClipCount      uint64
	DriftPPM       float64
}

// command carries a parameter update that must take effect on a block
// boundary, never mid-block.
type command struct {
	apply func(*Pipeline)
}

// Pipeline composes the fixed DSP chain (headroom, parametric EQ,
// optional resample, optional dither/shape, format convert) and
// accepts hot parameter swaps via a command channel drained at the start
// of each Process call.
type Pipeline struct {
	log zerolog.Logger

	headroom *Headroom
	eq       atomic.Pointer[EqProcessor]
	resample *Resampler
	dither   *Dither
	rack     *enhancer.Rack
	ditherer *audio.Ditherer

	resampleEnabled bool
	ditherEnabled   bool
	targetFormat    audio.SampleFormat

	cmdCh chan command

	mu     sync.RWMutex
	status map[string]StageStatus
}

// NewPipeline constructs a pipeline for the given sample rate/channel
// pair, starting with a flat EQ preset and no resampling or dithering.
func NewPipeline(sampleRate, channels int, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		log:          log,
		headroom:     NewHeadroom(),
		rack:         enhancer.NewRack(),
		ditherer:     audio.NewDitherer(),
		targetFormat: audio.FormatF32,
		cmdCh:        make(chan command, 32),
		status:       make(map[string]StageStatus, 4),
	}
	p.eq.Store(NewEqProcessor(float64(sampleRate), channels, DefaultEqPreset()))
	return p
}

// enqueueCommand schedules a parameter update to apply at the next block
// boundary. Non-blocking: if the command queue is full the update is
// dropped and logged rather than stalling the real-time thread.
func (p *Pipeline) enqueueCommand(fn func(*Pipeline)) {
	select {
	case p.cmdCh <- command{apply: fn}:
	default:
		p.log.Warn().Msg("dsp: command queue full, dropping parameter update")
	}
}

// SetEqPreset schedules a new EQ cascade, built off the caller's thread,
// to swap in atomically at the next block boundary.
func (p *Pipeline) SetEqPreset(sampleRate float64, channels int, preset EqPreset) {
	next := NewEqProcessor(sampleRate, channels, preset)
	p.enqueueCommand(func(pipe *Pipeline) {
		pipe.eq.Store(next)
	})
}

// SetHeadroomDB schedules a headroom change.
func (p *Pipeline) SetHeadroomDB(db float64) {
	p.enqueueCommand(func(pipe *Pipeline) {
		pipe.headroom.SetHeadroomDB(db)
	})
}

// SetResampler schedules enabling/disabling and reconfiguring the
// resample stage. A tier or rate change resets the resampler's state.
func (p *Pipeline) SetResampler(quality ResamplerQuality, inRate, outRate, channels int) {
	r := NewResampler(quality, inRate, outRate, channels)
	p.enqueueCommand(func(pipe *Pipeline) {
		pipe.resample = r
		pipe.resampleEnabled = r.IsActive()
	})
}

// SetDither schedules enabling/disabling the dither/noise-shape stage.
func (p *Pipeline) SetDither(mode DitherMode, shaping NoiseShaping, bitDepth, channels int) {
	d := NewDither(mode, shaping, bitDepth, channels)
	p.enqueueCommand(func(pipe *Pipeline) {
		pipe.dither = d
		pipe.ditherEnabled = mode != DitherNone
	})
}

// SetTargetFormat schedules the output wire/device format for convert.
func (p *Pipeline) SetTargetFormat(f audio.SampleFormat) {
	p.enqueueCommand(func(pipe *Pipeline) {
		pipe.targetFormat = f
	})
}

// EnhancerFlags carries the per-profile enable flags for the optional
// post-dither effect rack.
type EnhancerFlags struct {
	Compressor     bool
	Limiter        bool
	StereoWidth    bool
	TapeSaturation bool
}

// SetEnhancerFlags schedules enabling/disabling the rack's stages. A
// stage being switched off has its state reset so re-enabling starts
// clean.
func (p *Pipeline) SetEnhancerFlags(flags EnhancerFlags) {
	p.enqueueCommand(func(pipe *Pipeline) {
		r := pipe.rack
		if r.Compressor.Enabled && !flags.Compressor {
			r.Compressor.Reset()
		}
		if r.Limiter.Enabled && !flags.Limiter {
			r.Limiter.Reset()
		}
		if r.TapeSaturation.Enabled && !flags.TapeSaturation {
			r.TapeSaturation.Reset()
		}
		r.Compressor.Enabled = flags.Compressor
		r.Limiter.Enabled = flags.Limiter
		r.StereoWidth.Enabled = flags.StereoWidth
		r.TapeSaturation.Enabled = flags.TapeSaturation
	})
}

// drainCommands applies every pending parameter update. Called exactly
// once at the start of each Process call so a given block is either
// fully pre-change or fully post-change.
func (p *Pipeline) drainCommands() {
	for {
		select {
		case cmd := <-p.cmdCh:
			cmd.apply(p)
		default:
			return
		}
	}
}

// Process runs one block through the fixed chain and returns the
// converted wire-format bytes ready for a sink. samples is modified in
// place by the float-domain stages.
func (p *Pipeline) Process(block audio.AudioBlock) []byte {
	p.drainCommands()

	p.headroom.Process(block.Frames)
	p.recordStatus("headroom", StageStatus{Enabled: true, ClipCount: p.headroom.ClipCount()})

	eq := p.eq.Load()
	eq.Process(block.Frames)
	p.recordStatus("eq", StageStatus{Enabled: true})

	frames := block.Frames
	if p.resampleEnabled && p.resample != nil {
		frames = p.resample.Process(frames)
		block = audio.NewAudioBlock(frames, p.resample.outRate, block.Channels)
		p.recordStatus("resample", StageStatus{Enabled: true})
	} else {
		p.recordStatus("resample", StageStatus{Enabled: false, Bypassed: true})
	}

	if p.ditherEnabled && p.dither != nil {
		p.dither.Process(frames)
		p.recordStatus("dither", StageStatus{Enabled: true})
	} else {
		p.recordStatus("dither", StageStatus{Enabled: false, Bypassed: true})
	}

	if rackOn := p.rack.Compressor.Enabled || p.rack.Limiter.Enabled ||
		p.rack.StereoWidth.Enabled || p.rack.TapeSaturation.Enabled; rackOn {
		p.rack.Process(frames)
		p.recordStatus("enhancer", StageStatus{Enabled: true})
	} else {
		p.recordStatus("enhancer", StageStatus{Enabled: false, Bypassed: true})
	}

	return audio.ConvertFormat(block, p.targetFormat, p.ditherer, nil)
}

// Status returns a snapshot of every stage's exported status struct.
func (p *Pipeline) Status() map[string]StageStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]StageStatus, len(p.status))
	for k, v := range p.status {
		out[k] = v
	}
	return out
}

func (p *Pipeline) recordStatus(stage string, s StageStatus) {
	p.mu.Lock()
	p.status[stage] = s
	p.mu.Unlock()
}

// Reset clears every stage's internal state (z-buffers, overlap buffer,
// error accumulators).
func (p *Pipeline) Reset() {
	p.headroom.Reset()
	if eq := p.eq.Load(); eq != nil {
		eq.Reset()
	}
	if p.resample != nil {
		p.resample.Reset()
	}
	if p.dither != nil {
		p.dither.Reset()
	}
	p.rack.Reset()
}
